package mysql

import "path"

// Fixed locations on an Ubuntu host.
const (
	PrefixDir       = "/usr"
	RunDir          = "/var/run/mysqld"
	PreseedDir      = "/var/cache/local/preseeding"
	PreseedFile     = PreseedDir + "/mysql-server.seed"
	AppArmorDir     = "/etc/apparmor.d"
	DebianCnf       = "/etc/mysql/debian.cnf"
	PackageDataDir  = "/var/lib/mysql"
	HelperPackage   = "debconf-utils"
	GenericService  = "mysql"
	AppArmorService = "apparmor"
	SystemdUnitDir  = "/etc/systemd/system"
)

// Paths are the per-instance file locations derived from the service name.
type Paths struct {
	InitConf     string
	SystemdUnit  string
	GrantsFile   string
	AppArmorFile string
	IncludeDir   string
	PidFile      string
	SocketFile   string
	ConfigFile   string
	DataDir      string
}

// PathsFor derives the instance paths of a descriptor.
func PathsFor(d ResourceDescriptor) Paths {
	name := d.ServiceName
	return Paths{
		InitConf:     "/etc/init/mysql-" + name + ".conf",
		SystemdUnit:  path.Join(SystemdUnitDir, "mysql-"+name+".service"),
		GrantsFile:   "/etc/mysql_grants-" + name + ".sql",
		AppArmorFile: path.Join(AppArmorDir, "usr.sbin.mysqld."+name),
		IncludeDir:   "/etc/mysql/" + name + ".conf.d",
		PidFile:      path.Join(RunDir, "mysql."+name+".pid"),
		SocketFile:   path.Join(RunDir, "mysqld."+name+".sock"),
		ConfigFile:   "/etc/mysql/my." + name + ".cnf",
		DataDir:      d.DataDir,
	}
}

// DataMarkers are the files whose joint presence in the data directory
// means the package's data has already been copied there.
func DataMarkers(dataDir string) []string {
	return []string{
		path.Join(dataDir, "ibdata1"),
		path.Join(dataDir, "ib_logfile0"),
	}
}
