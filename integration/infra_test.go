//go:build integration

package integration_test

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/goccy/go-yaml"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/directory-auth/internal/config"
	"github.com/openkcm/directory-auth/internal/dbtest/postgrestest"
	"github.com/openkcm/directory-auth/internal/dbtest/valkeytest"
)

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Cfg            config.Config

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// we're running a process in a subdirectory so that we aren't interferring with the other tests.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	// Prepare a directory for the test
	err = os.MkdirAll(istat.Procdir, 0o755)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), 0o600)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	istat.Cfg.HTTP.Address = "unix://" + istat.SocketPath("http")
	istat.Cfg.Admin.Address = "unix://" + istat.SocketPath("admin")

	return istat
}

// SocketPath is the unix socket a server of the process listens on.
func (istat *infraStat) SocketPath(name string) string {
	return filepath.Join(istat.Procdir, name+".sock")
}

func (istat *infraStat) PreparePostgres(t *testing.T) {
	const dbuser = "postgres"
	const dbpass = "secret"
	const dbname = "directory_auth"

	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())
	pgClient.Close()

	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, pgTerminate)

	istat.Cfg.Directory.Backend = config.DirectoryBackendPostgres
	istat.Cfg.Database.Name = dbname
	istat.Cfg.Database.User = commoncfg.SourceRef{Source: "embedded", Value: dbuser}
	istat.Cfg.Database.Password = commoncfg.SourceRef{Source: "embedded", Value: dbpass}
	istat.Cfg.Database.Host = commoncfg.SourceRef{Source: "embedded", Value: "localhost"}
	istat.Cfg.Database.Port = pgPort.Port()
}

func (istat *infraStat) PrepareSQLite(t *testing.T) {
	t.Helper()

	istat.Cfg.Directory.Backend = config.DirectoryBackendSQLite
	istat.Cfg.Directory.SQLiteDSN = "file:" + filepath.Join(istat.Procdir, "directory.db")
	istat.Cfg.Directory.InitSchema = true
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkPort, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.Sessions.Backend = config.SessionBackendValKey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: net.JoinHostPort("localhost", vkPort.Port())}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	configFile, err := os.Create(istat.ConfigFilePath)
	require.NoError(t, err, "failed to create config file")
	defer configFile.Close()

	err = yaml.NewEncoder(configFile).Encode(istat.Cfg)
	require.NoError(t, err, "failed to write config")
}

// UnixClient returns an http client dialing the named socket of the process.
// Request URLs use http://unix as the host.
func (istat *infraStat) UnixClient(name string) *http.Client {
	socket := istat.SocketPath(name)
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return new(net.Dialer).DialContext(ctx, "unix", socket)
			},
		},
	}
}

// WaitForSocket polls until the named server accepts connections.
func (istat *infraStat) WaitForSocket(t *testing.T, name string) {
	t.Helper()

	client := istat.UnixClient(name)
	for range 100 {
		resp, err := client.Get("http://unix/")
		if err == nil {
			resp.Body.Close()
			return
		}
		if !strings.Contains(err.Error(), "no such file") && !strings.Contains(err.Error(), "connection refused") {
			t.Logf("waiting for %s: %s", name, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server %s did not come up", name)
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
