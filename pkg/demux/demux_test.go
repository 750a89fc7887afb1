package demux

import "testing"

func TestClassifyByteExhaustive(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)

		var want Class
		switch {
		case i <= 3:
			want = ClassSTUN
		case i >= 16 && i <= 19:
			want = ClassZRTP
		case i >= 20 && i <= 63:
			want = ClassDTLS
		case i >= 64 && i <= 79:
			want = ClassTURNChannel
		case i >= 128 && i <= 191:
			want = ClassRTP
		default:
			want = ClassUnknown
		}

		if got := ClassifyByte(b); got != want {
			t.Errorf("ClassifyByte(%d) = %v, want %v", i, got, want)
		}
		if got := Classify([]byte{b, 0x00}); got != want {
			t.Errorf("Classify([%d ...]) = %v, want %v", i, got, want)
		}
	}
}

func TestClassifyEmpty(t *testing.T) {
	if got := Classify(nil); got != ClassUnknown {
		t.Errorf("Classify(nil) = %v, want Unknown", got)
	}
}

func TestClassSupported(t *testing.T) {
	tests := []struct {
		class Class
		want  bool
	}{
		{ClassSTUN, true},
		{ClassDTLS, true},
		{ClassRTP, true},
		{ClassZRTP, false},
		{ClassTURNChannel, false},
		{ClassUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.class.String(), func(t *testing.T) {
			if got := tt.class.Supported(); got != tt.want {
				t.Errorf("Supported() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRTCP(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"sender report", []byte{0x80, 200, 0x00, 0x06}, true},
		{"receiver report", []byte{0x81, 201, 0x00, 0x07}, true},
		{"PLI", []byte{0x81, 206, 0x00, 0x02}, true},
		{"lower bound", []byte{0x80, 192}, true},
		{"upper bound", []byte{0x80, 223}, true},
		{"RTP opus", []byte{0x80, 111}, false},
		{"RTP marker set", []byte{0x80, 0x80 | 96}, false},
		{"RTP PT 72 with marker", []byte{0x80, 0x80 | 72}, true}, // 200, reserved collision range
		{"too short", []byte{0x80}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRTCP(tt.data); got != tt.want {
				t.Errorf("IsRTCP(%x) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}
