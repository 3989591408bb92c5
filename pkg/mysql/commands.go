package mysql

import (
	"github.com/openfroyo/mysql-service/pkg/host"
)

var (
	mysqlBin      = PrefixDir + "/bin/mysql"
	mysqladminBin = PrefixDir + "/bin/mysqladmin"
	debconfBin    = PrefixDir + "/bin/debconf-set-selections"
)

// PreseedCommand loads the debconf answers for the server package.
func PreseedCommand(seedFile string) host.Command {
	return host.NewCommand(debconfBin, seedFile)
}

// RootAccessGuard succeeds while root can connect without a password.
func RootAccessGuard() host.Command {
	return host.NewCommand(mysqlBin, "-u", "root", "-e", "show databases;")
}

// RootPasswordCommand assigns the root password. It returns nil for an empty
// password, which leaves root without one. The password is passed as a
// single argument; its rendered command line shell-escapes it.
func RootPasswordCommand(password string) *host.Command {
	if password == "" {
		return nil
	}
	cmd := host.NewCommand(mysqladminBin, "-u", "root", "password").WithSecretArg(password)
	return &cmd
}

// GrantsCommand loads the grants file through the mysql client. The
// credential flag is omitted entirely when the password is empty.
func GrantsCommand(password, grantsFile string) host.Command {
	cmd := host.NewCommand(mysqlBin, "-u", "root")
	if password != "" {
		cmd = cmd.WithSecretOption("-p", password)
	}
	return cmd.WithStdinFile(grantsFile)
}

// DaemonReloadCommand makes systemd pick up new or changed unit files.
func DaemonReloadCommand() host.Command {
	return host.NewCommand("systemctl", "daemon-reload")
}

// DataMigrationCommands copy the data the package initialized into dataDir.
// The generic service is stopped for a consistent copy and started again
// afterwards, since the run declares it started.
func DataMigrationCommands(dataDir string) []host.Command {
	return []host.Command{
		host.NewCommand("service", GenericService, "stop"),
		host.NewCommand("cp", "-rf", PackageDataDir+"/.", dataDir),
		host.NewCommand("service", GenericService, "start"),
	}
}
