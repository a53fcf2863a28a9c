package xerr

import "fmt"

// 常用错误码定义
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	RecordNotFound     = 404
	StorageError       = 501
	DecodeError        = 502 // 订单编码数据长度非法
	ConsistencyError   = 503 // revert 数量超过可匹配的 trade 数量
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func Newf(code int, format string, args ...interface{}) error {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// IsCode 判断 err 是否为指定错误码的 CodeError
func IsCode(err error, code int) bool {
	if ce, ok := err.(*CodeError); ok {
		return ce.Code == code
	}
	return false
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case RecordNotFound:
		return "记录不存在"
	case StorageError:
		return "存储繁忙"
	case DecodeError:
		return "订单数据解码失败"
	case ConsistencyError:
		return "成交与回滚事件不一致"
	default:
		return "未知错误"
	}
}
