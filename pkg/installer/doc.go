/*
Package installer drives one package through Fetch → Validate → Unpack
→ LoadImages → Attach → Activate: the twelve ordered phases that carry
a package entry from Installing to Installed.

Phases are strictly sequential within one Install call — each consumes
state the previous phase produced — but independent calls for different
package ids run concurrently under pkg/scheduler's pool. Any phase
error appends the package id to the broken-packages set and returns the
original error; the cache file and public directory are left in place
for the reconciler to observe.
*/
package installer
