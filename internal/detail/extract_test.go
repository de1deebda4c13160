package detail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "fixtures", name))
	if err != nil {
		t.Fatalf("failed to load fixture %s: %v", name, err)
	}
	return string(data)
}

func TestParseDetailsSample(t *testing.T) {
	markup := loadFixture(t, "detail_sample.html")

	details := parseDetails(markup, "registry_2159100100")

	if details.Incomplete {
		t.Error("expected complete details from well-formed markup")
	}
	if details.Identifier != "registry_2159100100" {
		t.Errorf("identifier = %q, want registry_2159100100", details.Identifier)
	}
	if details.FullName != "Parque Fotovoltaico Quebrada Honda" {
		t.Errorf("full name = %q", details.FullName)
	}
	if details.ProjectType != "DIA" {
		t.Errorf("project type = %q, want DIA", details.ProjectType)
	}
	if !strings.Contains(details.InvestmentAmount, "millones") {
		t.Errorf("investment amount = %q", details.InvestmentAmount)
	}
	if !strings.Contains(details.Description, "parque fotovoltaico de 9 MW") {
		t.Errorf("description = %q", details.Description)
	}
}

func TestParseDetailsContacts(t *testing.T) {
	markup := loadFixture(t, "detail_sample.html")

	details := parseDetails(markup, "registry_2159100100")

	titular := details.Titular
	if titular.Name != "Energía Solar Quebrada Honda SpA" {
		t.Errorf("titular name = %q", titular.Name)
	}
	if titular.City != "Las Condes, Santiago" {
		t.Errorf("titular city = %q", titular.City)
	}
	if titular.Phone != "+56 2 2345 6700" {
		t.Errorf("titular phone = %q", titular.Phone)
	}
	if titular.Email != "contacto@esqh.cl" {
		t.Errorf("titular email = %q, want mailto target over link text", titular.Email)
	}

	rep := details.LegalRep
	if rep.Name != "Carolina Muñoz Rivas" {
		t.Errorf("legal rep name = %q", rep.Name)
	}
	if rep.Address != "Av. Apoquindo 4700, piso 11" {
		t.Errorf("legal rep address = %q", rep.Address)
	}
	if rep.Email != "cmunoz@esqh.cl" {
		t.Errorf("legal rep email = %q", rep.Email)
	}
}

func TestParseDetailsLegacyTable(t *testing.T) {
	markup := `<html><body><table>
		<tr><td>Nombre del Proyecto</td><td>Central Hidroeléctrica Los Maquis</td></tr>
		<tr><td>Tipo de Proyecto</td><td>EIA</td></tr>
		<tr><td>Monto de Inversión</td><td>120 millones de dólares</td></tr>
	</table></body></html>`

	details := parseDetails(markup, "registry_55")

	if details.FullName != "Central Hidroeléctrica Los Maquis" {
		t.Errorf("full name = %q", details.FullName)
	}
	if details.ProjectType != "EIA" {
		t.Errorf("project type = %q, want EIA", details.ProjectType)
	}
	if details.InvestmentAmount != "120 millones de dólares" {
		t.Errorf("investment amount = %q", details.InvestmentAmount)
	}
}

func TestParseDetailsMissingFields(t *testing.T) {
	details := parseDetails("<html><body><p>mantención programada</p></body></html>", "registry_9")

	if details.Incomplete {
		t.Error("missing fields should not flag the details as incomplete")
	}
	if details.ProjectType != "" || details.InvestmentAmount != "" || details.Description != "" {
		t.Errorf("expected empty fields, got %+v", details)
	}
	if details.Titular.Name != "" || details.LegalRep.Name != "" {
		t.Error("expected empty contact blocks")
	}
}

func TestParseDetailsTitleFallback(t *testing.T) {
	details := parseDetails("<html><head><title>Proyecto Eólico Loma Alta</title></head><body></body></html>", "registry_7")

	if details.FullName != "Proyecto Eólico Loma Alta" {
		t.Errorf("full name = %q, want title fallback", details.FullName)
	}
}
