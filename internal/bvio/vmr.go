package bvio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// vmrFileVersion is the header version this codec emits.
const vmrFileVersion = 4

// vmrHeaderBytes is the size of the four uint16 pre-data header fields.
const vmrHeaderBytes = 8

// VMR is an anatomical volume: the header fields of the pre-data part
// plus the 8-bit intensity data in x-fastest order.
type VMR struct {
	DimX, DimY, DimZ int
	Data             []uint8
}

// WriteVMR writes the pre-data header and voxel data of an anatomical
// volume. All header values are little-endian uint16.
func WriteVMR(path string, v *VMR) error {
	if len(v.Data) != v.DimX*v.DimY*v.DimZ {
		return &FormatError{
			Type:   MalformedFile,
			Path:   path,
			Detail: fmt.Sprintf("data length %d does not match dims %dx%dx%d", len(v.Data), v.DimX, v.DimY, v.DimZ),
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header := []uint16{vmrFileVersion, uint16(v.DimX), uint16(v.DimY), uint16(v.DimZ)}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(v.Data); err != nil {
		return err
	}
	return w.Flush()
}

// ReadVMR reads the pre-data header and voxel data of an anatomical
// volume.
func ReadVMR(path string) (*VMR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [4]uint16
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "truncated header"}
		}
	}
	if header[0] != vmrFileVersion {
		return nil, &FormatError{
			Type:   MalformedFile,
			Path:   path,
			Detail: fmt.Sprintf("unsupported file version %d", header[0]),
		}
	}

	v := &VMR{DimX: int(header[1]), DimY: int(header[2]), DimZ: int(header[3])}

	// Check the header dims against the actual file size before
	// allocating the voxel buffer.
	want := int64(v.DimX) * int64(v.DimY) * int64(v.DimZ)
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if want == 0 || info.Size() < vmrHeaderBytes+want {
		return nil, &FormatError{
			Type:   MalformedFile,
			Path:   path,
			Detail: fmt.Sprintf("dims %dx%dx%d do not fit file size %d", v.DimX, v.DimY, v.DimZ, info.Size()),
		}
	}

	v.Data = make([]uint8, want)
	if _, err := io.ReadFull(r, v.Data); err != nil {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "truncated voxel data"}
	}
	return v, nil
}
