package provider

import (
	"time"

	"github.com/embermail/dispatch/internal/model"
)

// Factory resolves the transport for one sending account.
type Factory interface {
	ForAccount(acct *model.SendingAccount) (Adapter, Mode, error)
}

// DefaultFactory picks SMTP when the account has relay settings, otherwise
// SES with the account's own credentials, otherwise the platform fallback
// credentials from config.
type DefaultFactory struct {
	Fallback    SESCredentials
	SESEndpoint string
	Timeout     time.Duration
}

func (f *DefaultFactory) ForAccount(acct *model.SendingAccount) (Adapter, Mode, error) {
	switch {
	case acct.SMTP != nil:
		if acct.SMTP.Host == "" || acct.SMTP.Port == 0 {
			return nil, 0, &ConfigError{Reason: "SMTP host or port missing"}
		}
		settings := SMTPSettings{
			Host:       acct.SMTP.Host,
			Port:       acct.SMTP.Port,
			Username:   acct.SMTP.Username,
			Password:   acct.SMTP.Password,
			Encryption: string(acct.SMTP.Encryption),
		}
		return NewSMTPClient(settings, f.Timeout), ModeConnection, nil
	case acct.SES != nil:
		if acct.SES.AccessKey == "" || acct.SES.SecretKey == "" {
			return nil, 0, &ConfigError{Reason: "SES credentials missing"}
		}
		creds := SESCredentials{
			AccessKey: acct.SES.AccessKey,
			SecretKey: acct.SES.SecretKey,
			Region:    acct.SES.Region,
		}
		return NewSESAdapter(creds, f.SESEndpoint, f.Timeout), ModeStateless, nil
	case f.Fallback.AccessKey != "":
		return NewSESAdapter(f.Fallback, f.SESEndpoint, f.Timeout), ModeStateless, nil
	default:
		return nil, 0, &ConfigError{Reason: "account has no usable transport"}
	}
}
