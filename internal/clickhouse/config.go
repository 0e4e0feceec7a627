// Package clickhouse wraps the clickhouse-go driver behind the narrow
// interfaces the transfer engine needs: a connection that can ping, query
// and execute, and a row cursor that yields dynamically typed values.
//
// Everything above this package talks to a Conn, never to driver.Conn, so the
// engine can be exercised against an in-memory store in tests.
package clickhouse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocol selects the wire protocol used to reach the store.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolNative Protocol = "native"
)

// ConnectionConfig identifies one store destination and the credentials used
// to reach it. Values are treated as immutable once constructed.
type ConnectionConfig struct {
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Database string   `json:"database" yaml:"database"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	JWTToken string   `json:"jwtToken,omitempty" yaml:"jwt_token,omitempty"`
	Protocol Protocol `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// Secret returns the effective secret used for pooling: the token when one
// is present, otherwise the password.
func (c ConnectionConfig) Secret() string {
	if c.JWTToken != "" {
		return c.JWTToken
	}
	return c.Password
}

// authSecret returns the value sent as the password on the wire. A password
// takes precedence; the token is only sent when no password is configured.
func (c ConnectionConfig) authSecret() string {
	if c.Password != "" {
		return c.Password
	}
	return c.JWTToken
}

// Fingerprint returns the pooling key host:port:database:username:secret.
//
// Protocol is not part of the key: two configs that differ only
// in protocol resolve to the same pooled client, whichever protocol dialed
// first. This is a known limitation of the keying scheme.
func (c ConnectionConfig) Fingerprint() string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", c.Host, c.Port, c.Database, c.Username, c.Secret())
}

// Addr returns host:port.
func (c ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EffectiveProtocol returns the configured protocol, defaulting to HTTP.
func (c ConnectionConfig) EffectiveProtocol() Protocol {
	if c.Protocol == "" {
		return ProtocolHTTP
	}
	return c.Protocol
}

// Validate reports every missing or malformed field at once.
func (c ConnectionConfig) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, "host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port (%d) must be 1-65535", c.Port))
	}
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, "database is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, "username is required")
	}
	switch c.EffectiveProtocol() {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolNative:
	default:
		errs = append(errs, fmt.Sprintf("protocol %q must be one of: http, https, native", c.Protocol))
	}
	if len(errs) > 0 {
		return errors.New("invalid connection: " + strings.Join(errs, "; "))
	}
	return nil
}

// String masks the secret so configs can be logged.
func (c ConnectionConfig) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", c.EffectiveProtocol(), c.Username, c.Addr(), c.Database)
}

// UnmarshalJSON accepts the port as a number or as a numeric string, the
// two forms browser clients send.
func (c *ConnectionConfig) UnmarshalJSON(data []byte) error {
	type plain ConnectionConfig
	aux := struct {
		*plain
		Port json.RawMessage `json:"port"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.Port)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		c.Port = 0
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		port, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("port %q is not a number", s)
		}
		c.Port = port
	default:
		if err := json.Unmarshal(raw, &c.Port); err != nil {
			return fmt.Errorf("port %s is not a number", raw)
		}
	}
	return nil
}
