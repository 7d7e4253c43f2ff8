/*
Package security holds the Context's secret-store handle: AES-256-GCM
encryption of a package's declared secrets at rest, and materializing
them to a plaintext directory a main service container bind-mounts as
/run/secrets.

Secrets are encrypted with a single process-wide key, either supplied
directly or derived from a password/install id via SHA-256. Each
secret is stored encrypted under the manager's data directory;
SecretsDirFor decrypts them on demand into a separate plaintext
directory, and PurgeSecretsDir removes that directory again. The
supervisor calls only SecretsDirFor, so the plaintext directory stays
on disk after the main service stops.
*/
package security
