// Package textutil normalizes user-entered text and builds safe tokens and
// display labels.
package textutil
