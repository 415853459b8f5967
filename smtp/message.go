package smtp

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultPort is the SMTP port used when Message.Port is empty.
const DefaultPort = "25"

// validate is a package-level singleton; building a validator is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// singleline rejects CR and LF so a field cannot inject SMTP commands
	// or extra headers.
	v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	return v
}

// Message is one email handed to Client.SendEmail. All fields are owned by
// the caller and only used for the duration of the call.
type Message struct {
	To           string `json:"to" yaml:"to" validate:"required,email"`
	From         string `json:"from" yaml:"from" validate:"required,email"`
	FriendlyName string `json:"friendly_name" yaml:"friendly_name" validate:"singleline,excludesall=<>"`
	Subject      string `json:"subject" yaml:"subject" validate:"singleline"`
	Body         string `json:"body" yaml:"body"`

	// HeloDomain is announced in the HELO command.
	HeloDomain string `json:"helo_domain" yaml:"helo_domain" validate:"required,singleline,max=255"`
	// MailServer is the host the module connects to.
	MailServer string `json:"mail_server" yaml:"mail_server" validate:"required,hostname_rfc1123|ip,max=255"`
	// Port defaults to DefaultPort.
	Port string `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,numeric,max=5"`
}

// Validate checks the message before any socket is opened.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}

func (m Message) port() string {
	if m.Port == "" {
		return DefaultPort
	}
	return m.Port
}
