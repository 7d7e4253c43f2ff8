/*
Package runtime is the container-runtime handle the Context holds: a
thin containerd client for a package's single main-service container
(create/start/stop/status/IP), plus a Loader that shells out to the
external image-loader CLI to load an s9pk's docker_images section.

Unlike a general-purpose scheduler's runtime client, this package never
places more than one container per package and carries no resource
accounting; containers are created without resource limits.
*/
package runtime
