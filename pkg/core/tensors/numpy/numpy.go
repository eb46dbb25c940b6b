// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy reads and writes tensors in NumPy's `.npy` and `.npz` file formats.
//
// It's the usual way to feed stacks of exposures to the combiner and to save its results,
// since NumPy is what most astronomy pipelines use.
//
// Supported are the versions 1.0, 2.0 and 3.0 of the `.npy` format, little and big-endian data,
// C and Fortran ordering, and all the dtypes defined in package dtypes. Files are always written
// in little-endian, C-order, version 1.0 (or 2.0 if the header is too large).
package numpy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/imcombine/pkg/core/dtypes"
	"github.com/gomlx/imcombine/pkg/core/shapes"
	"github.com/gomlx/imcombine/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	magic = "\x93NUMPY"

	// headerAlignment is the alignment of the full preamble + header, as requested by the format.
	headerAlignment = 64
)

// descrCodes maps the type code (the descr without the byte order) to the DType.
var descrCodes = map[string]dtypes.DType{
	"b1": dtypes.Bool,
	"i1": dtypes.Int8,
	"i2": dtypes.Int16,
	"i4": dtypes.Int32,
	"i8": dtypes.Int64,
	"u1": dtypes.Uint8,
	"u2": dtypes.Uint16,
	"u4": dtypes.Uint32,
	"u8": dtypes.Uint64,
	"f2": dtypes.Float16,
	"f4": dtypes.Float32,
	"f8": dtypes.Float64,
}

// header of a .npy file.
type header struct {
	dtype        dtypes.DType
	bigEndian    bool
	fortranOrder bool
	dimensions   []int
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseHeader parses the Python dictionary literal of a .npy header, e.g.:
// "{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }"
func parseHeader(text string) (h header, err error) {
	m := reDescr.FindStringSubmatch(text)
	if m == nil {
		return h, errors.Errorf("missing 'descr' in .npy header %q", text)
	}
	h.dtype, h.bigEndian, err = parseDescr(m[1])
	if err != nil {
		return
	}

	m = reFortran.FindStringSubmatch(text)
	if m == nil {
		return h, errors.Errorf("missing 'fortran_order' in .npy header %q", text)
	}
	h.fortranOrder = m[1] == "True"

	m = reShape.FindStringSubmatch(text)
	if m == nil {
		return h, errors.Errorf("missing 'shape' in .npy header %q", text)
	}
	h.dimensions = []int{}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			// Trailing comma of 1-tuples, or the empty tuple of scalars.
			continue
		}
		dim, convErr := strconv.Atoi(part)
		if convErr != nil || dim < 0 {
			return h, errors.Errorf("invalid dimension %q in .npy header %q", part, text)
		}
		h.dimensions = append(h.dimensions, dim)
	}
	return h, nil
}

// parseDescr converts a NumPy type descriptor (e.g. "<f8", "|u1", "?") to a DType.
func parseDescr(descr string) (dtype dtypes.DType, bigEndian bool, err error) {
	if descr == "?" {
		return dtypes.Bool, false, nil
	}
	code := descr
	if len(code) > 0 {
		switch code[0] {
		case '>', '!':
			bigEndian = true
			code = code[1:]
		case '<', '|', '=':
			code = code[1:]
		}
	}
	dtype, found := descrCodes[code]
	if !found {
		return dtypes.InvalidDType, false, errors.Errorf("unsupported NumPy dtype %q", descr)
	}
	if dtype.Size() == 1 {
		bigEndian = false
	}
	return dtype, bigEndian, nil
}

// descrFor returns the little-endian NumPy type descriptor for the dtype.
func descrFor(dtype dtypes.DType) (string, error) {
	if dtype == dtypes.Bool {
		return "|b1", nil
	}
	for code, codeDType := range descrCodes {
		if codeDType == dtype {
			if dtype.Size() == 1 {
				return "|" + code, nil
			}
			return "<" + code, nil
		}
	}
	return "", errors.Errorf("dtype %s has no .npy equivalent", dtype)
}

// FromNpyFile reads a .npy file and returns a tensors.Tensor.
func FromNpyFile(filePath string) (*tensors.Tensor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	tensor, err := FromNpyReader(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return tensor, nil
}

// FromNpyReader reads a .npy file from an io.Reader and returns a tensors.Tensor.
func FromNpyReader(r io.Reader) (*tensors.Tensor, error) {
	preamble := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, errors.Wrap(err, "failed to read .npy preamble")
	}
	if string(preamble[:len(magic)]) != magic {
		return nil, errors.New("invalid .npy file: magic string mismatch")
	}
	major := preamble[len(magic)]
	var headerLen int
	switch major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "failed to read .npy header length")
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "failed to read .npy header length")
		}
		headerLen = int(n)
	default:
		return nil, errors.Errorf("unsupported .npy version %d.%d", major, preamble[len(magic)+1])
	}
	headerText := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerText); err != nil {
		return nil, errors.Wrap(err, "failed to read .npy header")
	}
	h, err := parseHeader(string(headerText))
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("numpy: reading %s[%v], fortran_order=%v, big_endian=%v",
		h.dtype, h.dimensions, h.fortranOrder, h.bigEndian)

	shape := shapes.Make(h.dtype, h.dimensions...)
	raw := make([]byte, shape.Memory())
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy data (expected %d bytes)", len(raw))
	}
	if h.bigEndian {
		swapBytes(raw, h.dtype.Size())
	}

	tensor := tensors.FromShape(shape)
	err = tensor.MutableBytes(func(data []byte) {
		if h.fortranOrder && shape.Rank() > 1 {
			fortranToC(shape, raw, data)
		} else {
			copy(data, raw)
		}
	})
	if err != nil {
		return nil, err
	}
	return tensor, nil
}

// swapBytes reverses the bytes of each element of elementSize bytes.
func swapBytes(data []byte, elementSize int) {
	for start := 0; start+elementSize <= len(data); start += elementSize {
		element := data[start : start+elementSize]
		for i, j := 0, elementSize-1; i < j; i, j = i+1, j-1 {
			element[i], element[j] = element[j], element[i]
		}
	}
}

// fortranToC copies column-major fortranData into row-major cData.
func fortranToC(shape shapes.Shape, fortranData, cData []byte) {
	rank := shape.Rank()
	fortranStrides := make([]int, rank)
	stride := shape.DType.Size()
	for axis := range rank {
		fortranStrides[axis] = stride
		stride *= shape.Dimensions[axis]
	}
	elementSize := shape.DType.Size()
	for flatIdx, indices := range shape.Iter() {
		src := 0
		for axis, idx := range indices {
			src += idx * fortranStrides[axis]
		}
		dst := flatIdx * elementSize
		copy(cData[dst:dst+elementSize], fortranData[src:src+elementSize])
	}
}

// ToNpyFile writes the tensor to a .npy file.
func ToNpyFile(tensor *tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npy file %q", filePath)
	}
	if err = ToNpyWriter(tensor, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	return errors.Wrapf(file.Close(), "failed to close .npy file %q", filePath)
}

// ToNpyWriter writes the tensor in .npy format, little-endian and C-order.
func ToNpyWriter(tensor *tensors.Tensor, w io.Writer) error {
	if err := tensor.CheckValid(); err != nil {
		return err
	}
	shape := tensor.Shape()
	descr, err := descrFor(shape.DType)
	if err != nil {
		return err
	}
	dims := make([]string, shape.Rank())
	for axis, dim := range shape.Dimensions {
		dims[axis] = strconv.Itoa(dim)
	}
	shapeTuple := strings.Join(dims, ", ")
	if shape.Rank() == 1 {
		shapeTuple += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeTuple)

	// Version 1.0 has a 2-bytes header length, version 2.0 a 4-bytes one.
	version, lenBytes := byte(1), 2
	if len(dict)+len(magic)+2+2+1 > 0xFFFF {
		version, lenBytes = 2, 4
	}
	preambleLen := len(magic) + 2 + lenBytes
	padding := headerAlignment - (preambleLen+len(dict)+1)%headerAlignment
	if padding == headerAlignment {
		padding = 0
	}
	text := dict + strings.Repeat(" ", padding) + "\n"

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write([]byte{version, 0})
	if version == 1 {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(text)))
	} else {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(text)))
	}
	buf.WriteString(text)
	if _, err = w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write .npy header")
	}

	var writeErr error
	err = tensor.ConstBytes(func(data []byte) {
		_, writeErr = w.Write(data)
	})
	if err != nil {
		return err
	}
	return errors.Wrap(writeErr, "failed to write .npy data")
}

// FromNpzFile reads a .npz file and returns a map of array names to tensors.
func FromNpzFile(filePath string) (map[string]*tensors.Tensor, error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = reader.Close() }()
	results, err := readNpz(&reader.Reader)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return results, nil
}

// FromNpzReader reads a .npz archive (a zip file of .npy files) from an io.ReaderAt of the given size.
func FromNpzReader(r io.ReaderAt, size int64) (map[string]*tensors.Tensor, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open .npz archive")
	}
	return readNpz(zipReader)
}

func readNpz(zipReader *zip.Reader) (map[string]*tensors.Tensor, error) {
	results := make(map[string]*tensors.Tensor, len(zipReader.File))
	for _, f := range zipReader.File {
		cleanPath := path.Clean(f.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Errorf("invalid path %q in .npz archive", f.Name)
		}
		if !strings.HasSuffix(cleanPath, ".npy") {
			klog.V(1).Infof("numpy: skipping %q in .npz archive", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q in .npz archive", f.Name)
		}
		tensor, err := FromNpyReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "array %q in .npz archive", f.Name)
		}
		results[strings.TrimSuffix(cleanPath, ".npy")] = tensor
	}
	return results, nil
}

// ToNpzFile writes the tensors to a .npz file, each named by its map key.
func ToNpzFile(tensorsMap map[string]*tensors.Tensor, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npz file %q", filePath)
	}
	if err = ToNpzWriter(tensorsMap, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	return errors.Wrapf(file.Close(), "failed to close .npz file %q", filePath)
}

// ToNpzWriter writes the tensors as a .npz archive.
func ToNpzWriter(tensorsMap map[string]*tensors.Tensor, w io.Writer) error {
	zipWriter := zip.NewWriter(w)
	for name, tensor := range tensorsMap {
		entry, err := zipWriter.Create(name + ".npy")
		if err != nil {
			return errors.Wrapf(err, "failed to create %q in .npz archive", name)
		}
		if err = ToNpyWriter(tensor, entry); err != nil {
			return errors.WithMessagef(err, "array %q", name)
		}
	}
	return errors.Wrap(zipWriter.Close(), "failed to close .npz archive")
}
