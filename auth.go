package chanhub

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Authenticator 在升级前调用，返回 context、clientID 和 error
type Authenticator interface {
	Authenticate(r *http.Request) (context.Context, string, error)
}

// AuthenticatorFunc 将函数适配为 Authenticator
type AuthenticatorFunc func(r *http.Request) (context.Context, string, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (context.Context, string, error) {
	return f(r)
}

// AnonymousAuth 接受所有连接
// clientID 依次取 Header (X-Client-ID)、查询参数 (?id=)，都没有则随机生成
type AnonymousAuth struct {
	IDHeader string // 默认 X-Client-ID
}

func (a AnonymousAuth) Authenticate(r *http.Request) (context.Context, string, error) {
	idHeader := a.IDHeader
	if idHeader == "" {
		idHeader = "X-Client-ID"
	}
	id := r.Header.Get(idHeader)
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		id = uuid.NewString()
	}
	return r.Context(), id, nil
}
