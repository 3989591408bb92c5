// Package policy evaluates Rego admission policies against a MySQL service
// descriptor before a run starts.
//
// Each policy is a Rego module exposing a deny set. Elements are strings or
// objects with message, optional severity ("warning" or "error") and
// optional field keys:
//
//	package mysql.naming
//
//	import rego.v1
//
//	deny contains {"message": "names must not start with tmp", "field": "service_name"} if {
//		startswith(input.service.name, "tmp")
//	}
//
// Policies see an Input document: the descriptor with defaults applied,
// the requested action and the target host. Passwords are replaced by
// has_root_password, root_password_length and has_debian_password.
//
// The built-in policies reject privileged ports and volatile data
// directories, and warn about missing or short credentials. Additional
// policies are loaded from .rego and .json files.
package policy
