// Package redis holds the redigo connection handling shared by the redis
// gateway and the redis-backed statistics.
package redis

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/BranchIntl/jobworker/errors"
)

// ErrInvalidScheme is returned when the Redis URI scheme is invalid
var ErrInvalidScheme = errors.New("invalid Redis database URI scheme")

// ConnectionOptions configures a Redis pool
type ConnectionOptions struct {
	URI            string
	MaxConnections int
	MaxIdle        int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	UseTLS         bool
	TLSSkipVerify  bool
	TLSCertPath    string
}

// DefaultConnectionOptions returns the pool settings used when none are given
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		URI:            "redis://localhost:6379/",
		MaxConnections: 10,
		MaxIdle:        2,
		IdleTimeout:    240 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// CreatePool creates a Redis connection pool using the provided options
func CreatePool(options ConnectionOptions) *redis.Pool {
	return &redis.Pool{
		MaxActive:   options.MaxConnections,
		MaxIdle:     options.MaxIdle,
		IdleTimeout: options.IdleTimeout,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			return DialRedis(options)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Ping borrows a connection from pool and checks that the server answers
func Ping(pool *redis.Pool) error {
	conn := pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

// DialRedis establishes a Redis connection using the provided options
func DialRedis(options ConnectionOptions) (redis.Conn, error) {
	redacted := RedactURI(options.URI)

	uri, err := url.Parse(options.URI)
	if err != nil {
		return nil, errors.NewConnectionError(redacted, fmt.Errorf("invalid URI: %w", err))
	}

	dialOptions := []redis.DialOption{
		redis.DialConnectTimeout(options.ConnectTimeout),
		redis.DialReadTimeout(options.ReadTimeout),
		redis.DialWriteTimeout(options.WriteTimeout),
	}

	var network, address string

	switch uri.Scheme {
	case "redis", "rediss":
		network = "tcp"
		address = uri.Host

		if uri.User != nil {
			if password, ok := uri.User.Password(); ok {
				dialOptions = append(dialOptions, redis.DialPassword(password))
			}
			if username := uri.User.Username(); username != "" {
				dialOptions = append(dialOptions, redis.DialUsername(username))
			}
		}

		if len(uri.Path) > 1 {
			db, err := strconv.Atoi(uri.Path[1:])
			if err != nil {
				return nil, errors.NewConnectionError(redacted, fmt.Errorf("invalid database %q: %w", uri.Path[1:], err))
			}
			dialOptions = append(dialOptions, redis.DialDatabase(db))
		}

		if uri.Scheme == "rediss" || options.UseTLS {
			tlsConfig := &tls.Config{
				InsecureSkipVerify: options.TLSSkipVerify,
			}

			if options.TLSCertPath != "" {
				pool, err := LoadCertPool(options.TLSCertPath)
				if err != nil {
					return nil, err
				}
				tlsConfig.RootCAs = pool
			}

			dialOptions = append(dialOptions,
				redis.DialUseTLS(true),
				redis.DialTLSConfig(tlsConfig),
			)
		}
	case "unix":
		network = "unix"
		address = uri.Path
	default:
		return nil, errors.NewConnectionError(redacted, ErrInvalidScheme)
	}

	conn, err := redis.Dial(network, address, dialOptions...)
	if err != nil {
		return nil, errors.NewConnectionError(redacted, fmt.Errorf("failed to connect: %w", err))
	}

	return conn, nil
}

// RedactURI hides the password of a connection URI so it can be logged
func RedactURI(raw string) string {
	uri, err := url.Parse(raw)
	if err != nil || uri.User == nil {
		return raw
	}
	return uri.Redacted()
}

// LoadCertPool loads a certificate pool from a file
func LoadCertPool(certPath string) (*x509.CertPool, error) {
	rootCAs, _ := x509.SystemCertPool()
	if rootCAs == nil {
		rootCAs = x509.NewCertPool()
	}

	certs, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cert file %q: %w", certPath, err)
	}

	if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
		return nil, fmt.Errorf("failed to append certs from %q", certPath)
	}

	return rootCAs, nil
}
