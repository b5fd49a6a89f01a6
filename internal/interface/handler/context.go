package handler

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"wafproxy/internal/domain"
	"wafproxy/internal/interface/repository/certs"
)

// buildContext は受信リクエストから評価用の正規化済みビューを構築.
// 現行ルールセットがボディ条件を含む場合のみ、ボディの先頭を
// 読み取って評価に回し、読んだ分は転送用に復元する.
func (h *ProxyHandler) buildContext(
	r *http.Request, requestID string,
) *domain.RequestContext {
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}

	rc := &domain.RequestContext{
		ID:         requestID,
		Method:     r.Method,
		Host:       certs.NormalizeHostname(r.Host),
		Path:       NormalizePath(r.URL.Path),
		RawQuery:   r.URL.RawQuery,
		Headers:    r.Header,
		ClientIP:   clientIP,
		ReceivedAt: time.Now(),
	}

	if r.TLS != nil {
		info := &domain.TLSInfo{ServerName: r.TLS.ServerName}
		if len(r.TLS.PeerCertificates) > 0 {
			info.ClientCertPresented = true
			info.ClientSubject = r.TLS.PeerCertificates[0].Subject.String()
		}
		rc.TLS = info
	}

	if h.admission.NeedsBodyInspection() && r.Body != nil && r.Body != http.NoBody {
		rc.Body = h.peekBody(r)
	}

	return rc
}

// peekBody はボディの先頭を上限付きで読み取り、リクエストの
// ボディを読み取り前の状態に復元する.
func (h *ProxyHandler) peekBody(r *http.Request) []byte {
	peeked, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyScan))
	if err != nil {
		h.log.WithError(err).Warn("request body read failed")
		return nil
	}

	r.Body = &replayBody{
		Reader: io.MultiReader(bytes.NewReader(peeked), r.Body),
		closer: r.Body,
	}
	return peeked
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error { return b.closer.Close() }

// NormalizePath は重複スラッシュを畳み込み、空パスを "/" に
// 正規化する.
func NormalizePath(raw string) string {
	if raw == "" {
		return "/"
	}
	if !strings.Contains(raw, "//") {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	prevSlash := false
	for _, ch := range raw {
		if ch == '/' {
			if !prevSlash {
				b.WriteRune(ch)
			}
			prevSlash = true
			continue
		}
		prevSlash = false
		b.WriteRune(ch)
	}
	return b.String()
}
