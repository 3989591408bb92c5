package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		portsPolicy(),
		storagePolicy(),
		credentialsPolicy(),
	}
}

func portsPolicy() Policy {
	return Policy{
		Name:        "mysql-ports",
		Description: "Instances listen on unprivileged ports and do not share the generic service port",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package mysql.ports

import rego.v1

deny contains violation if {
	input.service.port < 1024
	violation := {
		"message": sprintf("port %d is privileged; instances must listen on 1024 or above", [input.service.port]),
		"field": "port",
	}
}

# The generic mysql service stays running on 3306 next to every instance.
deny contains violation if {
	input.action == "create"
	input.service.port == 3306
	violation := {
		"message": sprintf("instance %s shares port 3306 with the generic mysql service", [input.service.name]),
		"severity": "warning",
		"field": "port",
	}
}
`,
	}
}

func storagePolicy() Policy {
	return Policy{
		Name:        "mysql-storage",
		Description: "Data directories live on persistent storage",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package mysql.storage

import rego.v1

volatile_prefixes := ["/tmp/", "/var/tmp/", "/dev/shm/", "/run/"]

deny contains violation if {
	some prefix in volatile_prefixes
	startswith(concat("", [input.service.data_dir, "/"]), prefix)
	violation := {
		"message": sprintf("data_dir %s is on volatile storage", [input.service.data_dir]),
		"field": "data_dir",
	}
}

deny contains violation if {
	input.service.data_dir == "/"
	violation := {
		"message": "data_dir must not be the filesystem root",
		"field": "data_dir",
	}
}
`,
	}
}

func credentialsPolicy() Policy {
	return Policy{
		Name:        "mysql-credentials",
		Description: "Instances have a root password of reasonable length",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package mysql.credentials

import rego.v1

deny contains violation if {
	input.action == "create"
	not input.service.has_root_password
	violation := {
		"message": sprintf("instance %s leaves root without a password", [input.service.name]),
		"field": "server_root_password",
	}
}

deny contains violation if {
	input.action == "create"
	input.service.has_root_password
	input.service.root_password_length < 8
	violation := {
		"message": "root password is shorter than 8 characters",
		"field": "server_root_password",
	}
}

deny contains violation if {
	input.action == "create"
	not input.service.has_debian_password
	violation := {
		"message": "debian-sys-maint has no password; package maintenance scripts cannot log in",
		"field": "server_debian_password",
	}
}
`,
	}
}
