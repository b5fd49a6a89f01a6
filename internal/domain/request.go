package domain

import (
	"net/textproto"
	"time"
)

// TLSInfo はハンドシェイクで確定したTLS上の情報を表す.
type TLSInfo struct {
	ServerName          string // SNIで要求されたホスト名
	ClientCertPresented bool
	ClientSubject       string // 検証済みクライアント証明書のSubject（mTLS無効時は空）
}

// RequestContext は評価対象リクエストの正規化済みビューを表す.
// リクエスト処理タスクが所有し、リクエスト完了時に破棄される.
type RequestContext struct {
	ID         string
	Method     string
	Host       string
	Path       string
	RawQuery   string
	Headers    map[string][]string
	Body       []byte // ボディ条件がある場合のみ先頭部分が入る
	ClientIP   string
	TLS        *TLSInfo
	ReceivedAt time.Time
}

// Header は正規化済みヘッダー名で最初の値を返す.
func (rc *RequestContext) Header(name string) string {
	if rc.Headers == nil {
		return ""
	}
	values := rc.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
