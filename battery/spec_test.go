package battery

import "testing"

func TestSpecValidate(t *testing.T) {
	if err := testSpec().Validate(); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"zero capacity", func(s *Spec) { s.CapacityKWh = 0 }},
		{"negative capacity", func(s *Spec) { s.CapacityKWh = -5 }},
		{"negative min soc", func(s *Spec) { s.MinSoc = -1 }},
		{"min soc at 100", func(s *Spec) { s.MinSoc = 100 }},
		{"negative charge rate", func(s *Spec) { s.MaxChargeKw = -1 }},
		{"negative discharge rate", func(s *Spec) { s.MaxDischargeKw = -1 }},
		{"zero charge efficiency", func(s *Spec) { s.ChargeEfficiency = 0 }},
		{"charge efficiency above 1", func(s *Spec) { s.ChargeEfficiency = 1.1 }},
		{"zero discharge efficiency", func(s *Spec) { s.DischargeEfficiency = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := testSpec()
			tc.mutate(&spec)
			if err := spec.Validate(); err == nil {
				t.Error("invalid spec not rejected")
			}
		})
	}
}
