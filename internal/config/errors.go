package config

import "fmt"

// FieldError 指出出错的配置项，CLI 直接打印即可定位到 TOML 中的字段。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap 暴露底层解析错误（例如 url.Parse 的错误）。
func (e FieldError) Unwrap() error {
	return e.Err
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// wrapFieldError 把子校验函数返回的错误挂到字段上。
func wrapFieldError(field string, err error) error {
	return FieldError{Field: field, Reason: err.Error(), Err: err}
}

// remoteField 拼出 Remote[name].Field 形式的字段路径。
func remoteField(name, field string) string {
	if name == "" {
		return fmt.Sprintf("Remote[].%s", field)
	}
	return fmt.Sprintf("Remote[%s].%s", name, field)
}
