package mysql

import (
	"io/fs"

	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/host"
	"github.com/openfroyo/mysql-service/pkg/resources"
)

func rootOwned(mode fs.FileMode) resources.Attributes {
	return resources.Attributes{Owner: "root", Group: "root", Mode: mode}
}

func mysqlOwned(mode fs.FileMode) resources.Attributes {
	return resources.Attributes{Owner: "mysql", Group: "mysql", Mode: mode}
}

func declare(step engine.Step, trigger engine.Trigger, actions ...engine.Action) engine.Declaration {
	return engine.Declaration{Step: step, Actions: actions, Trigger: trigger}
}

// createPlan declares the steps that install and configure an instance.
// Declaration order is execution order apart from notifications.
func (p *Provider) createPlan(d ResourceDescriptor) []engine.Declaration {
	paths := PathsFor(d)
	data := templateData(d, paths)
	always, notified, guarded := engine.TriggerAlways, engine.TriggerOnNotify, engine.TriggerIfChanged

	preseed := resources.NewExecute(p.host, "preseed mysql-server", PreseedCommand(PreseedFile))

	var rootPassword []host.Command
	if cmd := RootPasswordCommand(d.ServerRootPassword); cmd != nil {
		rootPassword = append(rootPassword, *cmd)
	}
	assignRoot := resources.NewExecute(p.host, "assign-root-password-"+d.ServiceName, rootPassword...).
		WithOnlyIf(RootAccessGuard())

	installGrants := resources.NewExecute(p.host, "install-grants-"+d.ServiceName,
		GrantsCommand(d.ServerRootPassword, paths.GrantsFile))

	apparmor := resources.NewService(AppArmorService, p.services, resources.Supports{Reload: true}).
		WithName("apparmor-mysql-" + d.ServiceName)

	instance := resources.NewService(d.ServiceUnit(), p.services, resources.Supports{Restart: true})

	copyData := resources.NewExecute(p.host, "copy mysql data to datadir "+d.ServiceName,
		DataMigrationCommands(d.DataDir)...).
		WithCreates(DataMarkers(d.DataDir)...)

	decls := []engine.Declaration{
		declare(resources.NewPackage(HelperPackage, p.packages), always, engine.ActionInstall),

		declare(resources.NewDirectory(p.host, PreseedDir, rootOwned(0o755)), always, engine.ActionCreate),

		declare(resources.NewTemplate(p.host, PreseedFile,
			bundledSource(p.templates, "debian/mysql-server.seed"), data, rootOwned(0o600)),
			always, engine.ActionCreate).
			Notify(preseed.ID(), engine.ActionRun, engine.TimingImmediate),

		declare(preseed, notified, engine.ActionNothing),

		// Installing the server package initializes /var/lib/mysql and starts
		// the generic service as a side effect.
		declare(resources.NewPackage(d.PackageName, p.packages), always, engine.ActionInstall),
	}
	decls = append(decls, p.jobDefinition(d, paths, data)...)
	decls = append(decls,
		declare(resources.NewService(GenericService, p.services, resources.Supports{Restart: true}),
			always, engine.ActionStart, engine.ActionEnable),

		declare(instance, always, engine.ActionRegister),

		declare(assignRoot, guarded, engine.ActionRun),

		declare(resources.NewTemplate(p.host, paths.GrantsFile,
			bundledSource(p.templates, "grants/grants.sql"), data, rootOwned(0o600)),
			always, engine.ActionCreate).
			Notify(installGrants.ID(), engine.ActionRun, engine.TimingDelayed),

		declare(installGrants, notified, engine.ActionNothing),

		declare(resources.NewDirectory(p.host, AppArmorDir, rootOwned(0o755)), always, engine.ActionCreate),

		declare(resources.NewTemplate(p.host, paths.AppArmorFile,
			bundledSource(p.templates, "apparmor/usr.sbin.mysqld"), data, rootOwned(0o644)),
			always, engine.ActionCreate).
			Notify(apparmor.ID(), engine.ActionReload, engine.TimingImmediate),

		declare(apparmor, notified, engine.ActionNothing),

		declare(resources.NewTemplate(p.host, DebianCnf,
			bundledSource(p.templates, "debian/debian.cnf"), data, rootOwned(0o600)),
			always, engine.ActionCreate),

		declare(resources.NewDirectory(p.host, paths.IncludeDir, mysqlOwned(0o750)), always, engine.ActionCreate),
		declare(resources.NewDirectory(p.host, RunDir, mysqlOwned(0o755)), always, engine.ActionCreate),
		declare(resources.NewDirectory(p.host, d.DataDir, mysqlOwned(0o750)), always, engine.ActionCreate),

		declare(resources.NewTemplate(p.host, paths.ConfigFile,
			ConfigSource(d, p.templates), data, mysqlOwned(0o600)),
			always, engine.ActionCreate).
			Notify(copyData.ID(), engine.ActionRun, engine.TimingDelayed).
			Notify(instance.ID(), engine.ActionRestart, engine.TimingDelayed),

		declare(copyData, notified, engine.ActionNothing),
	)
	return decls
}

// jobDefinition declares the instance job for the host's supervisor: an
// upstart job in /etc/init, or a systemd unit followed by a daemon-reload.
func (p *Provider) jobDefinition(d ResourceDescriptor, paths Paths, data TemplateData) []engine.Declaration {
	if p.services == nil || p.services.Name() != "systemd" {
		return []engine.Declaration{
			declare(resources.NewTemplate(p.host, paths.InitConf,
				bundledSource(p.templates, d.Version+"/init.mysql.conf"), data, rootOwned(0o600)),
				engine.TriggerAlways, engine.ActionCreate),
		}
	}

	daemonReload := resources.NewExecute(p.host, "systemd daemon-reload "+d.ServiceName, DaemonReloadCommand())
	return []engine.Declaration{
		declare(resources.NewTemplate(p.host, paths.SystemdUnit,
			bundledSource(p.templates, "systemd/mysql.service"), data, rootOwned(0o644)),
			engine.TriggerAlways, engine.ActionCreate).
			Notify(daemonReload.ID(), engine.ActionRun, engine.TimingImmediate),
		declare(daemonReload, engine.TriggerOnNotify, engine.ActionNothing),
	}
}

// restartPlan restarts the instance and nothing else.
func (p *Provider) restartPlan(d ResourceDescriptor) []engine.Declaration {
	svc := resources.NewService(d.ServiceUnit(), p.services, resources.Supports{Restart: true})
	return []engine.Declaration{declare(svc, engine.TriggerAlways, engine.ActionRestart)}
}

// reloadPlan reloads the instance and nothing else.
func (p *Provider) reloadPlan(d ResourceDescriptor) []engine.Declaration {
	svc := resources.NewService(d.ServiceUnit(), p.services, resources.Supports{Reload: true})
	return []engine.Declaration{declare(svc, engine.TriggerAlways, engine.ActionReload)}
}
