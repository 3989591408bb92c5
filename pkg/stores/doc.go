// Package stores journals convergence runs and their step records in SQLite.
package stores
