package convert

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/henghuang/nifti"

	"bidsbv/internal/bvio"
	"bidsbv/internal/design"
)

// niftiToVMR decodes a NIfTI volume and writes it as an 8-bit
// anatomical VMR, rescaling intensities to the 0..225 display range.
func niftiToVMR(src, dst string) error {
	var img nifti.Nifti1Image
	img.LoadImage(src, true)

	dims := img.GetDims()
	dimX, dimY, dimZ := dims[0], dims[1], dims[2]
	if dimX == 0 || dimY == 0 || dimZ == 0 {
		return fmt.Errorf("empty NIfTI volume: %s", src)
	}

	maxIntensity := float64(0)
	for z := 0; z < dimZ; z++ {
		for y := 0; y < dimY; y++ {
			for x := 0; x < dimX; x++ {
				v := float64(img.GetAt(x, y, z, 0))
				if v > maxIntensity {
					maxIntensity = v
				}
			}
		}
	}
	if maxIntensity == 0 {
		maxIntensity = 1
	}

	// VMR intensities use 0..225; values above are reserved for
	// segmentation labels.
	v := &bvio.VMR{DimX: dimX, DimY: dimY, DimZ: dimZ}
	v.Data = make([]uint8, dimX*dimY*dimZ)
	i := 0
	for z := 0; z < dimZ; z++ {
		for y := 0; y < dimY; y++ {
			for x := 0; x < dimX; x++ {
				intensity := float64(img.GetAt(x, y, z, 0))
				if intensity < 0 {
					intensity = 0
				}
				v.Data[i] = uint8(math.Round(225 * intensity / maxIntensity))
				i++
			}
		}
	}

	return bvio.WriteVMR(dst, v)
}

// niftiToFMR decodes a 4D NIfTI series and writes an FMR project with
// its companion STC data file.
func niftiToFMR(src, dst string) error {
	var img nifti.Nifti1Image
	img.LoadImage(src, true)

	var header nifti.Nifti1Header
	header.LoadHeader(src)

	dims := img.GetDims()
	dimX, dimY, dimZ, dimT := dims[0], dims[1], dims[2], dims[3]
	if dimX == 0 || dimY == 0 || dimZ == 0 {
		return fmt.Errorf("empty NIfTI volume: %s", src)
	}
	if dimT == 0 {
		dimT = 1
	}

	fmr := &bvio.FMR{
		NrOfVolumes: dimT,
		NrOfSlices:  dimZ,
		TR:          trMillis(header.Pixdim[4]),
		ResolutionX: dimX,
		ResolutionY: dimY,
		Data:        make([]uint16, dimT*dimZ*dimX*dimY),
	}
	if fmr.NrOfSlices > 0 && fmr.TR > 0 {
		fmr.InterSliceTime = fmr.TR / fmr.NrOfSlices
	}

	i := 0
	for t := 0; t < dimT; t++ {
		for z := 0; z < dimZ; z++ {
			for y := 0; y < dimY; y++ {
				for x := 0; x < dimX; x++ {
					v := float64(img.GetAt(x, y, z, t))
					if v < 0 {
						v = 0
					}
					if v > math.MaxUint16 {
						v = math.MaxUint16
					}
					fmr.Data[i] = uint16(v)
					i++
				}
			}
		}
	}

	return bvio.WriteFMR(dst, fmr)
}

// trMillis converts the NIfTI time step to milliseconds. Headers store
// it in either seconds or milliseconds; values below the shortest
// plausible millisecond TR are treated as seconds.
func trMillis(pixdimT float32) int {
	tr := float64(pixdimT)
	if tr <= 0 {
		return 0
	}
	if tr < 100 {
		return int(math.Round(tr * 1000))
	}
	return int(math.Round(tr))
}

// eventsToProtocol converts a BIDS events table into a
// millisecond-resolution stimulation protocol.
func eventsToProtocol(src, dst string) error {
	events, err := bvio.ReadEvents(src)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("events table has no rows")
	}

	experiment := strings.TrimSuffix(filepath.Base(src), ".tsv")
	p := design.ProtocolFromEvents(events, experiment)
	return bvio.WritePRT(dst, p)
}
