package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrAlreadyRegistered  = errors.New("user already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password too short")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrEmptyDisplayName   = errors.New("display name is empty")
	ErrInvalidToken       = errors.New("invalid token")
)

// FieldError is an auth failure translated for a form field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *FieldError) Error() string { return e.Message }

func (e *FieldError) Unwrap() error { return e.Err }

// Translate maps auth errors to pt-BR messages for the login and profile
// forms. Unknown errors get a generic message.
func Translate(err error) *FieldError {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return &FieldError{Field: "password", Message: "E-mail ou senha incorretos. Verifique seus dados ou crie uma conta se for seu primeiro acesso.", Err: err}
	case errors.Is(err, ErrEmailNotConfirmed):
		return &FieldError{Field: "email", Message: "Seu e-mail ainda não foi confirmado. Verifique sua caixa de entrada (ou spam).", Err: err}
	case errors.Is(err, ErrAlreadyRegistered):
		return &FieldError{Field: "email", Message: "Este e-mail já está cadastrado. Tente fazer login.", Err: err}
	case errors.Is(err, ErrInvalidEmail):
		return &FieldError{Field: "email", Message: "Informe um e-mail válido.", Err: err}
	case errors.Is(err, ErrPasswordMismatch):
		return &FieldError{Field: "confirmPassword", Message: "As senhas não coincidem.", Err: err}
	case errors.Is(err, ErrWeakPassword):
		return &FieldError{Field: "password", Message: "A senha deve ter pelo menos 6 caracteres.", Err: err}
	case errors.Is(err, ErrEmptyDisplayName):
		return &FieldError{Field: "displayName", Message: "Informe um nome de exibição.", Err: err}
	case errors.Is(err, ErrInvalidToken):
		return &FieldError{Message: "Sessão inválida ou expirada. Entre novamente.", Err: err}
	default:
		return &FieldError{Message: "Ocorreu um erro inesperado.", Err: err}
	}
}
