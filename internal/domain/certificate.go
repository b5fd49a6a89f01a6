package domain

import (
	"crypto/tls"
	"time"
)

// CertificateIdentity はホスト名パターンに紐づくサーバー証明書と
// 秘密鍵の組を表す. ロード後は不変であり、差し替えは全体の
// 再構築によってのみ行われる.
type CertificateIdentity struct {
	Hostname    string // 完全一致パターンまたは "*.suffix"
	Certificate tls.Certificate
	LoadedAt    time.Time
	Default     bool
}

// CertificateResolver はSNIホスト名からサーバー識別情報を解決する.
// 完全一致、最長サフィックスのワイルドカード、デフォルトの順で
// 解決し、決して失敗しない.
type CertificateResolver interface {
	Resolve(hostname string) *CertificateIdentity
}
