package chanhub

import (
	"net/http"
	"net/url"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"ws":    "80",
	"https": "443",
	"wss":   "443",
}

// origin 为 (scheme, host, port) 三元组，空字段在白名单条目中表示通配
// scheme 由 url.Parse 转为小写，host 与 port 按原样比较
type origin struct {
	scheme string
	host   string
	port   string
}

func parseOrigin(raw string) (origin, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return origin{}, false
	}
	return origin{scheme: u.Scheme, host: u.Hostname(), port: u.Port()}, true
}

func (o origin) matches(req origin) bool {
	if o.scheme != "" && o.scheme != req.scheme {
		return false
	}
	if o.host != "" && o.host != req.host {
		return false
	}
	if o.port != "" && o.port != req.port {
		return false
	}
	return true
}

// OriginPolicy 为预解析的 Origin 白名单
// 条目形如 "https://a.com"、"//a.com"（任意 scheme）、"https://a.com:8443"
// 未写端口的条目匹配任意端口；无法解析的条目不匹配任何请求
type OriginPolicy struct {
	configured bool
	allowed    []origin
}

// NewOriginPolicy 解析白名单，空列表表示不限制
func NewOriginPolicy(allowed []string) *OriginPolicy {
	p := &OriginPolicy{configured: len(allowed) > 0}
	for _, raw := range allowed {
		if o, ok := parseOrigin(raw); ok {
			p.allowed = append(p.allowed, o)
		}
	}
	return p
}

// Allow 校验请求声明的 Origin，空值表示请求未携带 Origin
func (p *OriginPolicy) Allow(requestOrigin string) bool {
	if requestOrigin == "" || p == nil || !p.configured {
		return true
	}
	req, ok := parseOrigin(requestOrigin)
	if !ok {
		return false
	}
	if req.port == "" {
		req.port = defaultPorts[req.scheme]
	}
	for _, o := range p.allowed {
		if o.matches(req) {
			return true
		}
	}
	return false
}

// Check 可直接用作 websocket.Upgrader.CheckOrigin
func (p *OriginPolicy) Check(r *http.Request) bool {
	return p.Allow(r.Header.Get("Origin"))
}

// CheckOrigin 校验 origin 是否在 allowed 白名单中
func CheckOrigin(requestOrigin string, allowed []string) bool {
	return NewOriginPolicy(allowed).Allow(requestOrigin)
}
