package model

// FormatID identifies one output standard
type FormatID string

const (
	FormatXRechnungCII   FormatID = "xrechnung-cii"
	FormatXRechnungUBL   FormatID = "xrechnung-ubl"
	FormatPeppolBIS      FormatID = "peppol-bis"
	FormatFacturXEN16931 FormatID = "facturx-en16931"
	FormatFacturXBasic   FormatID = "facturx-basic"
	FormatFatturaPA      FormatID = "fatturapa"
	FormatKSeF           FormatID = "ksef"
	FormatNLCIUS         FormatID = "nlcius"
	FormatCIUSRO         FormatID = "cius-ro"
)

// AllFormats lists every supported format id in a stable order
func AllFormats() []FormatID {
	return []FormatID{
		FormatCIUSRO,
		FormatFacturXBasic,
		FormatFacturXEN16931,
		FormatFatturaPA,
		FormatKSeF,
		FormatNLCIUS,
		FormatPeppolBIS,
		FormatXRechnungCII,
		FormatXRechnungUBL,
	}
}

// IsXRechnung reports whether the format carries the German national rules
func (f FormatID) IsXRechnung() bool {
	return f == FormatXRechnungCII || f == FormatXRechnungUBL
}

// IsFacturX reports whether the format is a hybrid PDF profile
func (f FormatID) IsFacturX() bool {
	return f == FormatFacturXEN16931 || f == FormatFacturXBasic
}

// IsNational reports whether the format uses a non-EN 16931 national syntax
func (f FormatID) IsNational() bool {
	return f == FormatFatturaPA || f == FormatKSeF
}
