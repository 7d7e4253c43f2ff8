// Package archive reads s9pk package archives: a fixed header carrying
// a declared content hash, a table of contents, and five logical
// sections (manifest, license, icon, docker_images, instructions). The
// docker_images and instructions sections are zstd-framed; the rest are
// stored raw.
package archive
