package user

import (
	"testing"
	"time"
)

func TestGenerateOTP(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP()
		if err != nil {
			t.Fatalf("GenerateOTP() error = %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("GenerateOTP() = %q, want 6 digits", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("GenerateOTP() = %q, non-digit %q", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("GenerateOTP() produced the same code 50 times")
	}
}

func Test_verifyOTP(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return now }
	defer func() { NowFunc = time.Now }()

	tests := []struct {
		name    string
		usr     User
		code    string
		wantErr error
	}{
		{
			name: "valid code",
			usr:  User{OTPCode: "042137", OTPExpiresAt: now.Add(time.Minute)},
			code: "042137",
		},
		{
			name:    "wrong code",
			usr:     User{OTPCode: "042137", OTPExpiresAt: now.Add(time.Minute)},
			code:    "042138",
			wantErr: ErrOTPInvalid,
		},
		{
			name:    "expired code",
			usr:     User{OTPCode: "042137", OTPExpiresAt: now.Add(-time.Second)},
			code:    "042137",
			wantErr: ErrOTPExpired,
		},
		{
			name:    "no code issued",
			usr:     User{},
			code:    "042137",
			wantErr: ErrOTPInvalid,
		},
		{
			name:    "length mismatch",
			usr:     User{OTPCode: "042137", OTPExpiresAt: now.Add(time.Minute)},
			code:    "04213",
			wantErr: ErrOTPInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verifyOTP(tt.usr, tt.code); err != tt.wantErr {
				t.Errorf("verifyOTP() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
