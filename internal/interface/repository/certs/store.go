package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wafproxy/internal/domain"
)

// Store はホスト名パターンからサーバー証明書を引くための
// 読み取り専用のストア.
//
// ディレクトリレイアウト:
//
//	<certsDir>/default/cert.pem, key.pem    デフォルト識別情報（必須）
//	<certsDir>/sni/<host>/cert.pem, key.pem 完全一致
//	<certsDir>/wildcard/<suffix>/...        *.<suffix> を表す
type Store struct {
	exact      map[string]*domain.CertificateIdentity
	wildcard   map[string]*domain.CertificateIdentity
	def        *domain.CertificateIdentity
	clientCAs  *x509.CertPool
	mtlsEnable bool
}

var _ domain.CertificateResolver = (*Store)(nil)

// Load は証明書ディレクトリとクライアントCAバンドルを読み込む.
// デフォルト識別情報の欠落・破損は致命的エラー. 個別ホストの
// エントリはロード失敗時に警告を出してスキップし、そのホストは
// デフォルト識別情報にフォールバックする.
func Load(
	certsDir, clientCAPath string, mtls bool, log logrus.FieldLogger,
) (*Store, error) {
	defaultIdentity, err := loadPair(filepath.Join(certsDir, "default"), "", true)
	if err != nil {
		return nil, &domain.ConfigError{Op: "default certificate", Path: certsDir, Err: err}
	}

	s := &Store{
		exact:      loadPairDir(filepath.Join(certsDir, "sni"), false, log),
		wildcard:   loadPairDir(filepath.Join(certsDir, "wildcard"), true, log),
		def:        defaultIdentity,
		mtlsEnable: mtls,
	}

	if mtls {
		pool, err := loadClientCAs(clientCAPath)
		if err != nil {
			return nil, &domain.ConfigError{Op: "client trust bundle", Path: clientCAPath, Err: err}
		}
		s.clientCAs = pool
	}

	log.WithFields(logrus.Fields{
		"exact":    len(s.exact),
		"wildcard": len(s.wildcard),
		"mtls":     mtls,
	}).Info("certificate store loaded")

	return s, nil
}

// Resolve はホスト名から識別情報を解決する. 完全一致、最長
// サフィックスのワイルドカード、デフォルトの順で解決し、決して
// 失敗しない. ホスト名が空の場合（SNIなしクライアント）は
// デフォルトを返す.
func (s *Store) Resolve(hostname string) *domain.CertificateIdentity {
	name := NormalizeHostname(hostname)
	if name == "" {
		return s.def
	}

	if id, ok := s.exact[name]; ok {
		return id
	}

	// a.b.example.com → b.example.com, example.com の順に試す.
	// 長いサフィックスから試すため、最初の一致が最長一致になる.
	parts := strings.Split(name, ".")
	for i := 1; i < len(parts); i++ {
		suffix := strings.Join(parts[i:], ".")
		if id, ok := s.wildcard[suffix]; ok {
			return id
		}
	}

	return s.def
}

// Default はデフォルト識別情報を返す.
func (s *Store) Default() *domain.CertificateIdentity { return s.def }

// ClientCAs はクライアント証明書検証用のCAプールを返す.
// mTLS無効時は nil.
func (s *Store) ClientCAs() *x509.CertPool { return s.clientCAs }

// MTLSEnabled は mTLS 強制が有効かどうかを返す.
func (s *Store) MTLSEnabled() bool { return s.mtlsEnable }

// NormalizeHostname はホスト名を小文字化し、末尾ドットと
// ポート番号を取り除く.
func NormalizeHostname(hostname string) string {
	h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(hostname), "."))
	if strings.HasPrefix(h, "[") {
		// IPv6リテラルはそのまま
		return h
	}
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i+1:], ":") {
		allDigits := len(h[i+1:]) > 0
		for _, c := range h[i+1:] {
			if c < '0' || c > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return h[:i]
		}
	}
	return h
}

// loadPair は1ディレクトリ分の証明書と鍵を読み込む.
func loadPair(dir, pattern string, isDefault bool) (*domain.CertificateIdentity, error) {
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair %s: %w", dir, err)
	}

	return &domain.CertificateIdentity{
		Hostname:    pattern,
		Certificate: cert,
		LoadedAt:    time.Now(),
		Default:     isDefault,
	}, nil
}

// loadPairDir はホスト名ごとのサブディレクトリを走査する.
// 個別エントリの失敗は警告のみでロード全体は継続する.
func loadPairDir(
	base string, wildcard bool, log logrus.FieldLogger,
) map[string]*domain.CertificateIdentity {
	out := make(map[string]*domain.CertificateIdentity)

	entries, err := os.ReadDir(base)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("dir", base).Warn("certificate directory unreadable")
		}
		return out
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := NormalizeHostname(entry.Name())
		pattern := name
		if wildcard {
			pattern = "*." + name
		}

		id, err := loadPair(filepath.Join(base, entry.Name()), pattern, false)
		if err != nil {
			log.WithError(err).WithField("hostname", pattern).
				Warn("certificate entry skipped, falling back to default identity")
			continue
		}
		out[name] = id
	}

	return out
}

// loadClientCAs はクライアント検証用のCAバンドルを読み込む.
func loadClientCAs(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no valid CA certificates in %s", path)
	}
	return pool, nil
}
