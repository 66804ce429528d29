// Package pdfops performs the page-level PDF edits the worker applies:
// normalization, rotation, page removal, range extraction, and redaction.
//
// Structural edits go through pdfcpu. Redacted pages are rendered with
// pdftoppm, painted over in raster space, and spliced back in as image-only
// pages so no text or vector content survives under a redaction box.
package pdfops
