package raster

import (
	"fmt"
)

// ReprojectOptions controls Reproject. An empty CRS keeps the fragment's.
type ReprojectOptions struct {
	CRS      string
	DataType DataType
	Fill     float64
}

// Reproject resolves the fragment mask with the fill value, warps the
// filled array into opts.CRS and casts it to opts.DataType. The resulting
// image declares the fill value as its nodata.
func Reproject(frag *Fragment, opts ReprojectOptions, w Warper) (*Image, error) {
	dtype := opts.DataType
	if dtype == Unknown {
		dtype = frag.DataType
	}
	if !dtype.Fits(opts.Fill) {
		return nil, fmt.Errorf("fill value %v not representable as %v", opts.Fill, dtype)
	}
	dstCRS := opts.CRS
	if dstCRS == "" {
		dstCRS = frag.CRS
	}

	filled := frag.Resolve(opts.Fill)
	dst, data, err := w.Warp(filled, frag.Grid(), dstCRS)
	if err != nil {
		return nil, err
	}
	if len(data) != len(filled.Data) {
		return nil, fmt.Errorf("warp returned %d bands, expected %d", len(data), len(filled.Data))
	}
	for b, band := range data {
		if len(band) != dst.Width*dst.Height {
			return nil, fmt.Errorf("warped band %d has %d samples, expected %dx%d", b+1, len(band), dst.Width, dst.Height)
		}
		for i, v := range band {
			band[i] = dtype.Cast(v)
		}
	}

	return &Image{
		Metadata: Metadata{
			Grid:      dst,
			Bands:     len(data),
			DataType:  dtype,
			NoData:    opts.Fill,
			HasNoData: true,
		},
		Data: data,
	}, nil
}
