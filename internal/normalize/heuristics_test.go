package normalize

import (
	"slices"
	"testing"

	"cfpradar/internal/model"
)

func TestInferCountry(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Argentina", "AR"},
		{" argentina ", "AR"},
		{"Ciudad de Mexico", "MX"},
		{"México", "MX"},
		{"Bogotá, Colombia", "CO"},
		{"Brazil", "BR"},
		{"República Dominicana", "DO"},
		{"Republica Dominicana", "DO"},
		{"CL", "CL"},
		{"Santiago CL", "CL"},
		{"Perú", "PE"},
		{"Spain", ""},
		{"Coworking", ""}, // "co" inside a word is not a code
		{"", ""},
	}
	for _, tt := range tests {
		got, ok := InferCountry(tt.in)
		if got != tt.want || ok != (tt.want != "") {
			t.Errorf("InferCountry(%q) = %q, %v; want %q", tt.in, got, ok, tt.want)
		}
	}
}

func TestSplitLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Place
	}{
		{"Buenos Aires, Argentina", Place{City: "Buenos Aires", Country: "AR"}},
		{"Centro Cultural Kirchner, Sarmiento 151, Buenos Aires, Argentina", Place{Venue: "Centro Cultural Kirchner", City: "Buenos Aires", Country: "AR"}},
		{"Palermo, Buenos Aires", Place{City: "Palermo"}},
		{"Chile", Place{Country: "CL"}},
		{" , ,", Place{}},
		{"", Place{}},
	}
	for _, tt := range tests {
		if got := SplitLocation(tt.in); got != tt.want {
			t.Errorf("SplitLocation(%q) = %+v; want %+v", tt.in, got, tt.want)
		}
	}
}

func TestInferFormat(t *testing.T) {
	if InferFormat("Online event") != model.FormatOnline || InferFormat("https://zoom.us/j/1") != model.FormatOnline {
		t.Errorf("online markers not detected")
	}
	if InferFormat("Av. Corrientes 1234, Buenos Aires") != model.FormatInPerson || InferFormat("") != model.FormatInPerson {
		t.Errorf("physical location should be in-person")
	}
}

func TestInferTracks(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Django Girls + FastAPI workshop", []string{"python"}},
		{"React Native en producción", []string{"mobile", "react"}},
		{"Node.js y JavaScript moderno", []string{"web", "javascript"}},
		{"Meetup de Kubernetes y CI/CD", []string{"devops", "kubernetes"}},
		{"Charla general", []string{}},
	}
	for _, tt := range tests {
		got := InferTracks(tt.in)
		if !slices.Equal(got, tt.want) {
			t.Errorf("InferTracks(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsCFP(t *testing.T) {
	for _, in := range []string{"CFP abierto", "Call for Papers: PyCon", "call for proposals", "Convocatoria de charlas"} {
		if !IsCFP(in) {
			t.Errorf("IsCFP(%q) = false", in)
		}
	}
	if IsCFP("Meetup mensual") {
		t.Errorf("plain text flagged as CFP")
	}
}

func TestFirstURL(t *testing.T) {
	got := FirstURL("Inscripción en (https://www.meetup.com/gdg/events/123/). Nos vemos!")
	if got != "https://www.meetup.com/gdg/events/123/" {
		t.Errorf("FirstURL = %q", got)
	}
	if FirstURL("sin enlaces") != "" {
		t.Errorf("expected empty")
	}
}

func TestCountryName(t *testing.T) {
	if CountryName("mx") != "México" || CountryName("ES") != "ES" {
		t.Errorf("CountryName mismatch")
	}
}
