package match

import "testing"

func TestExtractGradedData(t *testing.T) {
	tests := []struct {
		name string
		text string
		want struct {
			cert  string
			year  int
			grade string
			cname string
			set   string
		}
	}{
		{
			name: "full modern label",
			text: "2023 POKEMON SV3.5 151 CHARIZARD #199 GEM MT 10 81234567",
			want: struct {
				cert  string
				year  int
				grade string
				cname string
				set   string
			}{"81234567", 2023, "GEM MT 10", "CHARIZARD", "POKEMON SV3.5 151"},
		},
		{
			name: "vintage label",
			text: "1999 POKEMON BASE SET CHARIZARD #4 MINT 9 12345678",
			want: struct {
				cert  string
				year  int
				grade string
				cname string
				set   string
			}{"12345678", 1999, "MINT 9", "CHARIZARD", "POKEMON BASE SET"},
		},
		{
			name: "no card number folds everything into the name",
			text: "2016 POKEMON XY EVOLUTIONS PIKACHU NM-MT 8 23456789",
			want: struct {
				cert  string
				year  int
				grade string
				cname string
				set   string
			}{"23456789", 2016, "NM-MT 8", "POKEMON XY EVOLUTIONS PIKACHU", ""},
		},
		{
			name: "empty text",
			text: "",
			want: struct {
				cert  string
				year  int
				grade string
				cname string
				set   string
			}{"", 0, "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractGradedData(tt.text)
			if got.CertificationNumber != tt.want.cert {
				t.Errorf("cert = %q, want %q", got.CertificationNumber, tt.want.cert)
			}
			if got.Year != tt.want.year {
				t.Errorf("year = %d, want %d", got.Year, tt.want.year)
			}
			if got.Grade != tt.want.grade {
				t.Errorf("grade = %q, want %q", got.Grade, tt.want.grade)
			}
			if got.CardName != tt.want.cname {
				t.Errorf("card name = %q, want %q", got.CardName, tt.want.cname)
			}
			if got.SetName != tt.want.set {
				t.Errorf("set name = %q, want %q", got.SetName, tt.want.set)
			}
		})
	}
}

func TestExtractCertificationBeforeYear(t *testing.T) {
	// The 8-digit certification must not be mistaken for a year even when
	// it starts with 19 or 20.
	got := ExtractGradedData("1999 POKEMON JUNGLE SNORLAX #11 NM 7 20191234")
	if got.CertificationNumber != "20191234" {
		t.Errorf("cert = %q, want 20191234", got.CertificationNumber)
	}
	if got.Year != 1999 {
		t.Errorf("year = %d, want 1999", got.Year)
	}
}

func TestCardNumber(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"CHARIZARD #199 GEM MT 10", "199"},
		{"PROMO PIKACHU #SM210 MINT 9", "SM210"},
		{"# 25 with a space", "25"},
		{"no number here", ""},
	}
	for _, tt := range tests {
		if got := CardNumber(tt.text); got != tt.want {
			t.Errorf("CardNumber(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
