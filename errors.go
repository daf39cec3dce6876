package chanhub

import "errors"

var (
	// ErrUnauthorized 认证失败
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClientNotFound 未找到客户端连接
	ErrClientNotFound = errors.New("client not found")
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("connection closed")
	// ErrJoinRejected 频道拒绝了 join
	ErrJoinRejected = errors.New("join rejected")
	// ErrStop 由频道返回，表示主动结束会话
	ErrStop = errors.New("session stopped")
	// ErrSessionClosed 会话已终止
	ErrSessionClosed = errors.New("session closed")
	// ErrNoPubSub 未配置 pubsub 后端
	ErrNoPubSub = errors.New("pubsub backend not configured")
)

// JoinError 由 Channel.Join 返回时拒绝加入，Response 作为拒绝应答的 response 发给客户端
type JoinError struct {
	Response any
}

func (e *JoinError) Error() string { return ErrJoinRejected.Error() }

func (e *JoinError) Is(target error) bool { return target == ErrJoinRejected }

// RejectJoin 拒绝 join 并附带应答内容
func RejectJoin(response any) error {
	return &JoinError{Response: response}
}

// rejectResponse 返回拒绝应答，处理器未提供时使用固定原因，不暴露内部错误
func rejectResponse(err error) any {
	var je *JoinError
	if errors.As(err, &je) && je.Response != nil {
		return je.Response
	}
	return map[string]string{"reason": "join rejected"}
}
