package models

import "slices"

// CaptureKind names one image slot of the capture buffer.
type CaptureKind string

const (
	CaptureDocumentScan CaptureKind = "document_scan"
	CaptureFace         CaptureKind = "face"
	CaptureLeftIris     CaptureKind = "left_iris"
	CaptureRightIris    CaptureKind = "right_iris"
	CaptureFingerprint  CaptureKind = "fingerprint"
)

// BiometricKinds lists the kinds captured from a live frame source.
var BiometricKinds = []CaptureKind{CaptureFace, CaptureLeftIris, CaptureRightIris, CaptureFingerprint}

func (k CaptureKind) IsBiometric() bool {
	return slices.Contains(BiometricKinds, k)
}

func ParseCaptureKind(s string) (CaptureKind, bool) {
	k := CaptureKind(s)
	if k == CaptureDocumentScan || k.IsBiometric() {
		return k, true
	}
	return "", false
}

// CaptureBuffer holds encoded images by kind. An entry is either absent or
// non-empty; Set with empty data deletes the entry.
type CaptureBuffer map[CaptureKind][]byte

func (b CaptureBuffer) Has(kind CaptureKind) bool {
	return len(b[kind]) > 0
}

func (b CaptureBuffer) Set(kind CaptureKind, data []byte) {
	if len(data) == 0 {
		delete(b, kind)
		return
	}
	b[kind] = slices.Clone(data)
}

// Kinds returns the present kinds in a stable order.
func (b CaptureBuffer) Kinds() []CaptureKind {
	kinds := make([]CaptureKind, 0, len(b))
	for k, v := range b {
		if len(v) > 0 {
			kinds = append(kinds, k)
		}
	}
	slices.Sort(kinds)
	return kinds
}

func (b CaptureBuffer) Clone() CaptureBuffer {
	out := make(CaptureBuffer, len(b))
	for k, v := range b {
		out[k] = slices.Clone(v)
	}
	return out
}
