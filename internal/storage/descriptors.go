package storage

import (
	"net"
	"net/url"
	"strconv"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultSQLDatabase string = "master"
	mongoAuthSource    string = "admin"
)

// SQLServerDescriptor holds everything needed to reach the relational store.
type SQLServerDescriptor struct {
	Host     string
	Port     int
	User     string
	Password config.RedactedString
	Database string
}

func NewSQLServerDescriptor(c config.SQLServerConfig, password config.RedactedString) SQLServerDescriptor {
	return SQLServerDescriptor{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: password,
		Database: defaultSQLDatabase,
	}
}

func (d SQLServerDescriptor) address() string {
	if d.Port == 0 {
		return d.Host
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d SQLServerDescriptor) url() *url.URL {
	query := url.Values{}
	query.Set("database", d.Database)
	query.Set("encrypt", "true")
	query.Set("trustservercertificate", "true")
	query.Set("multipleactiveresultsets", "true")
	return &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(d.User, d.Password.Value()),
		Host:     d.address(),
		RawQuery: query.Encode(),
	}
}

// DSN is the connection string passed to the sqlserver driver.
func (d SQLServerDescriptor) DSN() string {
	return d.url().String()
}

// String is safe to log, the password is redacted.
func (d SQLServerDescriptor) String() string {
	return d.url().Redacted()
}

// MongoDescriptor holds the target and the credential of the document store.
type MongoDescriptor struct {
	Host       string
	Port       int
	Credential options.Credential
}

func NewMongoDescriptor(c config.MongoDBConfig, password config.RedactedString) MongoDescriptor {
	return MongoDescriptor{
		Host: c.Host,
		Port: c.Port,
		Credential: options.Credential{
			AuthSource:  mongoAuthSource,
			Username:    c.User,
			Password:    password.Value(),
			PasswordSet: true,
		},
	}
}

func (d MongoDescriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d MongoDescriptor) ClientOptions() *options.ClientOptions {
	return options.Client().
		SetHosts([]string{d.Address()}).
		SetAuth(d.Credential)
}

func (d MongoDescriptor) String() string {
	return "mongodb://" + d.Credential.Username + "@" + d.Address() + "/?authSource=" + d.Credential.AuthSource
}
