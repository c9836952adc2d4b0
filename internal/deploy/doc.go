// Package deploy writes staged downloads into the installation tree.
//
// A staged artifact is first materialized next to its destination: the
// published encoding is decoded, a delta patch is applied to the current
// file, and a detached signature is checked. Only then is it renamed into
// place or, for archives, extracted. Signature problems are verification
// failures; every other problem is a deploy failure.
package deploy
