package certs

import (
	"bytes"
	"crypto/tls"

	"github.com/sirupsen/logrus"

	"wafproxy/internal/domain"
)

// Resolver はTLSハンドシェイクにサーバー識別情報を供給する.
// 選択ロジック自体は SelectIdentity の純粋関数であり、
// ハンドシェイクなしでテストできる.
type Resolver struct {
	store *Store
}

// NewResolver は新しいResolverインスタンスを作成.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// SelectIdentity はSNIホスト名から識別情報を選択する.
// SNI拡張を送らないクライアントにはデフォルト識別情報を返す.
func (r *Resolver) SelectIdentity(sniHostname string) *domain.CertificateIdentity {
	return r.store.Resolve(sniHostname)
}

// GetCertificate は tls.Config.GetCertificate フック.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	identity := r.SelectIdentity(hello.ServerName)
	return &identity.Certificate, nil
}

// TLSConfig はSNIによる証明書選択とクライアント証明書検証を
// 組み込んだサーバー設定を構築する. mTLS有効時、クライアント
// 証明書の欠落・期限切れ・信頼チェーン不成立はHTTP層に到達する
// 前にハンドシェイクを失敗させる.
func (r *Resolver) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}

	if r.store.MTLSEnabled() {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = r.store.ClientCAs()
	}

	return cfg
}

// HandshakeErrorWriter は http.Server の ErrorLog 出力から
// ハンドシェイク拒否を拾い、セキュリティイベントとして記録する.
type HandshakeErrorWriter struct {
	Log     logrus.FieldLogger
	Metrics domain.MetricsCollector
}

var handshakeErrorMarker = []byte("TLS handshake error")

func (w *HandshakeErrorWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimSpace(p))
	if bytes.Contains(p, handshakeErrorMarker) {
		if w.Metrics != nil {
			w.Metrics.RecordHandshakeRejected()
		}
		w.Log.WithField("event", "handshake_rejected").Warn(msg)
	} else {
		w.Log.Error(msg)
	}
	return len(p), nil
}
