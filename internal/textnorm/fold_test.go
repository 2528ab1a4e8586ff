package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Trạng thái", "trang thai"},
		{"  TRẠNG   THÁI ", "trang thai"},
		{"Tên", "ten"},
		{"Người đại diện", "nguoi dai dien"},
		{"ĐỊA CHỈ", "dia chi"},
		{"Mã số thuế", "ma so thue"},
		{"CCCD", "cccd"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Fold(tt.in))
		})
	}
}

func TestFold_Idempotent(t *testing.T) {
	for _, s := range []string{"Trạng thái", "Không tìm thấy (dạng danh sách)", "lỗi hệ thống"} {
		once := Fold(s)
		assert.Equal(t, once, Fold(once))
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "notfoundlisting", Key("Not Found (listing)"))
	assert.Equal(t, "notfoundlisting", Key("notfound_listing"))
	assert.Equal(t, "khongtimthaydangdanhsach", Key("không tìm thấy (dạng danh sách)"))
	assert.Equal(t, "ketnoithatbaitimeout", Key("kết nối thất bại/timeout"))
	assert.Empty(t, Key(" - "))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("Mã số thuế cá nhân", "ma so thue"))
	assert.True(t, Contains("  NGƯỜI ĐẠI DIỆN ", "Người đại diện"))
	assert.False(t, Contains("Địa chỉ", "Mã số thuế"))
	assert.False(t, Contains("anything", ""))
}
