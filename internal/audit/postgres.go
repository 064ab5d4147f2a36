package audit

import (
	"context"
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	errs "hftcore/internal/errors"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines the connection to the audit database.
type PostgresOption struct {
	Host       string            `json:"host" yaml:"host"`
	Port       int               `json:"port" yaml:"port"`
	User       string            `json:"user" yaml:"user"`
	Password   string            `json:"password" yaml:"password"`
	Database   string            `json:"database" yaml:"database"`
	SSLMode    string            `json:"sslMode" yaml:"sslMode"`
	Params     map[string]string `json:"params" yaml:"params"`
	ConnString string            `json:"connString" yaml:"connString"`
}

// Enabled reports whether enough is configured to connect.
func (opt PostgresOption) Enabled() bool {
	return opt.ConnString != "" || opt.Database != ""
}

// Postgres writes audit records with gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects and migrates the audit table.
func OpenPostgres(option PostgresOption) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(option.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errs.Wrap(err, "open postgres")
	}
	return NewPostgres(db)
}

// NewPostgres wraps an open connection and migrates the audit table.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errs.Wrap(err, "migrate audit records")
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Write(ctx context.Context, rec Record) error {
	return p.db.WithContext(ctx).Create(&rec).Error
}

// Session returns every record of one run in insertion order.
func (p *Postgres) Session(ctx context.Context, session string) ([]Record, error) {
	var out []Record
	err := p.db.WithContext(ctx).Where("session = ?", session).Order("id").Find(&out).Error
	if err != nil {
		return nil, errs.Wrap(err, "query audit session")
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String()
}
