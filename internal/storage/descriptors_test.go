package storage

import (
	"net/url"
	"testing"

	"github.com/SwissDataScienceCenter/renku-portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLServerDescriptor(t *testing.T) {
	descriptor := NewSQLServerDescriptor(config.SQLServerConfig{Host: "db.example.org", Port: 1433, User: "portal"}, "p@ss/word")

	dsn, err := url.Parse(descriptor.DSN())

	require.NoError(t, err)
	assert.Equal(t, "sqlserver", dsn.Scheme)
	assert.Equal(t, "db.example.org:1433", dsn.Host)
	assert.Equal(t, "portal", dsn.User.Username())
	password, _ := dsn.User.Password()
	assert.Equal(t, "p@ss/word", password)
	query := dsn.Query()
	assert.Equal(t, "master", query.Get("database"))
	assert.Equal(t, "true", query.Get("encrypt"))
	assert.Equal(t, "true", query.Get("trustservercertificate"))
	assert.Equal(t, "true", query.Get("multipleactiveresultsets"))
}

func TestSQLServerDescriptorWithoutPort(t *testing.T) {
	descriptor := NewSQLServerDescriptor(config.SQLServerConfig{Host: "db.example.org", User: "portal"}, "secret")

	dsn, err := url.Parse(descriptor.DSN())

	require.NoError(t, err)
	assert.Equal(t, "db.example.org", dsn.Host)
}

func TestSQLServerDescriptorStringIsRedacted(t *testing.T) {
	descriptor := NewSQLServerDescriptor(config.SQLServerConfig{Host: "db.example.org", User: "portal"}, "secret")

	assert.NotContains(t, descriptor.String(), "secret")
	assert.Contains(t, descriptor.String(), "portal")
}

func TestMongoDescriptor(t *testing.T) {
	descriptor := NewMongoDescriptor(config.MongoDBConfig{Host: "mongo.example.org", Port: 27017, User: "portal"}, "secret")

	opts := descriptor.ClientOptions()

	assert.Equal(t, []string{"mongo.example.org:27017"}, opts.Hosts)
	require.NotNil(t, opts.Auth)
	assert.Equal(t, "admin", opts.Auth.AuthSource)
	assert.Equal(t, "portal", opts.Auth.Username)
	assert.Equal(t, "secret", opts.Auth.Password)
	assert.NoError(t, opts.Validate())
	assert.NotContains(t, descriptor.String(), "secret")
}
