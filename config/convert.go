package config

import (
	"github.com/andaru/epp/pool"
	"github.com/andaru/epp/session"
	"github.com/andaru/epp/transport"
)

// PoolConfig returns the pool configuration of the endpoint, named
// name. Call SetDefaults first.
func (e Endpoint) PoolConfig(name string) pool.Config {
	cfg := pool.Config{
		Name:            name,
		MaxActive:       e.MaxActive,
		MinIdle:         e.MinIdle,
		AbsoluteTimeout: e.AbsoluteTimeout.D(),
		IdleTimeout:     e.IdleTimeout.D(),
		BorrowRetries:   e.BorrowRetries,
		RetryBackoff:    e.RetryBackoff.D(),
		PreWarm:         e.PreWarm,
		TestOnBorrow:    e.TestOnBorrow,
	}
	if e.MaxIdle != nil {
		cfg.MaxIdle = *e.MaxIdle
	}
	if e.MaxWait != nil {
		cfg.MaxWait = e.MaxWait.D()
	}
	if e.EvictionInterval != nil {
		cfg.EvictionInterval = e.EvictionInterval.D()
	}
	return cfg
}

// TransportConfig returns the transport configuration of the endpoint.
func (e Endpoint) TransportConfig() transport.Config {
	cfg := transport.Config{
		Host:             e.ServerHost,
		Port:             e.ServerPort,
		LocalBindAddress: e.LocalBindAddress,
		Proxies:          append([]string(nil), e.Proxies...),
		ConnectTimeout:   e.ConnectTimeout.D(),
		ReadTimeout:      e.ReadTimeout.D(),
		MaxMessageSize:   e.MaxMessageSize,
	}
	if e.RandomizeProxies != nil && !*e.RandomizeProxies {
		cfg.ProxyOrder = transport.ProxyOrderSequential
	}
	if e.TLS != nil {
		cfg.TLS = &transport.TLSConfig{
			CertFile:           e.TLS.CertFile,
			KeyFile:            e.TLS.KeyFile,
			CAFile:             e.TLS.CAFile,
			ServerName:         e.TLS.ServerName,
			InsecureSkipVerify: e.TLS.InsecureSkipVerify,
		}
	}
	return cfg
}

// SessionConfig returns the session configuration of the endpoint.
func (e Endpoint) SessionConfig() session.Config {
	mode := session.ModeSync
	if e.Mode == "async" {
		mode = session.ModeAsync
	}
	return session.Config{
		ClientID:            e.ClientID,
		Password:            e.Password,
		NewPassword:         e.NewPassword,
		Version:             e.Version,
		Lang:                e.Lang,
		ObjectURIs:          append([]string(nil), e.ObjectURIs...),
		ExtensionURIs:       append([]string(nil), e.ExtensionURIs...),
		Mode:                mode,
		LenientRead:         e.LenientRead,
		AutoTransactionID:   e.AutoTransactionID,
		TransactionIDPrefix: e.TransactionIDPrefix,
		Transport:           e.TransportConfig(),
	}
}
