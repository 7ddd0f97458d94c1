package billing

import (
	"encoding/json"
	"testing"
)

func TestFeePayload_UnmarshalJSON(t *testing.T) {
	t.Run("bare number", func(t *testing.T) {
		var f feePayload
		if err := json.Unmarshal([]byte(`250.50`), &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !f.Amount.Equal(d("250.50")) {
			t.Errorf("amount = %s, want 250.50", f.Amount)
		}
		if f.PatientType != "" {
			t.Errorf("patient type = %q, want empty (defaulted later)", f.PatientType)
		}
	})

	t.Run("structured object", func(t *testing.T) {
		var f feePayload
		payload := `{"amount": "300", "patient_type": "IP", "description": "inpatient registration"}`
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !f.Amount.Equal(d("300")) {
			t.Errorf("amount = %s, want 300", f.Amount)
		}
		if f.PatientType != PatientTypeIP {
			t.Errorf("patient type = %q, want IP", f.PatientType)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		var f feePayload
		if err := json.Unmarshal([]byte(`[1,2]`), &f); err == nil {
			t.Error("expected an error for an array payload")
		}
	})

	t.Run("inside create request", func(t *testing.T) {
		var req createBillingRequest
		payload := `{
			"kind": "consultation",
			"patient_id": "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			"registration_fee": 500,
			"consultation_fee": {"amount": "300"}
		}`
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !req.RegistrationFee.Amount.Equal(d("500")) {
			t.Errorf("registration fee = %s, want 500", req.RegistrationFee.Amount)
		}
		if !req.ConsultationFee.Amount.Equal(d("300")) {
			t.Errorf("consultation fee = %s, want 300", req.ConsultationFee.Amount)
		}
	})
}
