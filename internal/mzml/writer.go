package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"io"
	"math"
	"strconv"
)

const mzMLNamespace = "http://psi.hupo.org/ms/mzml"

// Spectrum holds the data needed to create one spectrum with New
type Spectrum struct {
	ID        string
	MSLevel   int
	Polarity  int     // +1, -1 or 0 for unspecified
	RT        float64 // seconds
	Precursor *Precursor
	Peaks     []Peak
}

// New creates an mzML document from spectra. Peaks are stored as
// zlib compressed 64-bit arrays.
func New(spectra []Spectrum) (MzML, error) {
	var f MzML
	f.content.XMLName = xml.Name{Space: mzMLNamespace, Local: "mzML"}
	f.content.Run.ID = "opesid"
	specs := make([]spectrum, len(spectra))
	for i, s := range spectra {
		spec := spectrum{
			Index:              i,
			ID:                 s.ID,
			DefaultArrayLength: int64(len(s.Peaks)),
		}
		if spec.ID == "" {
			spec.ID = "index=" + strconv.Itoa(i)
		}
		spec.CvPar = append(spec.CvPar,
			CVParam{Accession: cvMSLevel, Name: "ms level", Value: strconv.Itoa(s.MSLevel)},
			CVParam{Accession: cvCentroid, Name: "centroid spectrum"})
		switch s.Polarity {
		case 1:
			spec.CvPar = append(spec.CvPar, CVParam{Accession: cvPositiveScan, Name: "positive scan"})
		case -1:
			spec.CvPar = append(spec.CvPar, CVParam{Accession: cvNegativeScan, Name: "negative scan"})
		}
		spec.ScanList = scanList{Count: 1, Scan: []scan{{CvPar: []CVParam{{
			Accession:     cvScanStartTime,
			Name:          "scan start time",
			Value:         strconv.FormatFloat(s.RT, 'f', -1, 64),
			UnitCvRef:     "UO",
			UnitAccession: "UO:0000010",
			UnitName:      "second",
		}}}}}
		if s.Precursor != nil {
			spec.PrecursorList = []precursorList{{Count: 1, Precursor: []xmlPrecursor{{
				SelectedIonList: selectedIonList{Count: 1, SelectedIon: []selectedIon{{
					CvPar: precursorCvParams(*s.Precursor),
				}}},
			}}}}
		}
		for _, mzArray := range []bool{true, false} {
			b64, err := encodeBinary(s.Peaks, true, true, mzArray)
			if err != nil {
				return f, err
			}
			arrayType := CVParam{Accession: `MS:1000515`, Name: "intensity array"}
			if mzArray {
				arrayType = CVParam{Accession: `MS:1000514`, Name: "m/z array"}
			}
			spec.BinaryDataArrayList.BinaryDataArray = append(spec.BinaryDataArrayList.BinaryDataArray,
				binaryDataArray{
					EncodedLength: len(b64),
					CvPar: []CVParam{
						{Accession: `MS:1000523`, Name: "64-bit float"},
						{Accession: `MS:1000574`, Name: "zlib compression"},
						arrayType,
					},
					Binary: b64,
				})
		}
		spec.BinaryDataArrayList.Count = len(spec.BinaryDataArrayList.BinaryDataArray)
		specs[i] = spec
	}
	f.content.Run.SpectrumList = spectrumList{Count: len(specs), Spectrum: specs}
	err := f.traverseScan()
	return f, err
}

func precursorCvParams(p Precursor) []CVParam {
	cv := []CVParam{{
		Accession: cvSelectedIonMz,
		Name:      "selected ion m/z",
		Value:     strconv.FormatFloat(p.Mz, 'f', -1, 64),
	}}
	if p.Intens != 0 {
		cv = append(cv, CVParam{
			Accession: cvPeakIntensity,
			Name:      "peak intensity",
			Value:     strconv.FormatFloat(p.Intens, 'f', -1, 64),
		})
	}
	if p.Charge != 0 {
		cv = append(cv, CVParam{
			Accession: cvChargeState,
			Name:      "charge state",
			Value:     strconv.Itoa(p.Charge),
		})
	}
	return cv
}

// Write writes the mzML document. The output has no index.
func (f *MzML) Write(writer io.Writer) error {
	if _, err := io.WriteString(writer, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(writer)
	enc.Indent(` `, `  `)
	if err := enc.Encode(&f.content); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeBinary(p []Peak, zlibCompression bool, bits64 bool, mzArray bool) (
	string, error) {

	width := 4
	if bits64 {
		width = 8
	}
	raw := make([]byte, len(p)*width)
	for i, peak := range p {
		v := peak.Intens
		if mzArray {
			v = peak.Mz
		}
		if bits64 {
			binary.LittleEndian.PutUint64(raw[(8*i):], math.Float64bits(v))
		} else {
			binary.LittleEndian.PutUint32(raw[(4*i):], math.Float32bits(float32(v)))
		}
	}
	data := raw
	if zlibCompression {
		var b bytes.Buffer
		z := zlib.NewWriter(&b)
		if _, err := z.Write(raw); err != nil {
			return "", err
		}
		// zlib writer must explicitly be closed here, otherwise result is invalid
		if err := z.Close(); err != nil {
			return "", err
		}
		data = b.Bytes()
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
