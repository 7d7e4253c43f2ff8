/*
Package health runs a package's declared health-check command and
classifies the result into a tri-state outcome: success, failure (with
captured stderr), or disabled. A package signals "disabled" by exiting
with code 59; any other non-zero exit is a genuine failure. The
supervisor's health loop is what consumes it.
*/
package health
