package service

import (
	"fmt"
	"strings"

	"github.com/LeventeLantos/patient-messaging/internal/model"
)

// Patients only ever receive these templates. Internal error text never reaches them.

func greeting(p *model.Patient) string {
	if p.Name == "" {
		return "Bapak/Ibu"
	}
	return p.Name
}

func verificationAcceptedText(p *model.Patient) string {
	return fmt.Sprintf("Terima kasih %s, nomor Anda sudah terverifikasi. Anda akan menerima pengingat obat dan kunjungan melalui WhatsApp ini.", greeting(p))
}

func verificationDeclinedText(p *model.Patient) string {
	return fmt.Sprintf("Baik %s, kami tidak akan mengirimkan pengingat. Hubungi relawan pendamping Anda jika berubah pikiran.", greeting(p))
}

func verificationClarifyText(p *model.Patient) string {
	return fmt.Sprintf("Mohon maaf %s, kami belum memahami balasan Anda. Balas YA untuk menerima pengingat atau TIDAK untuk menolak.", greeting(p))
}

func unsubscribedText(p *model.Patient) string {
	return fmt.Sprintf("%s, Anda telah berhenti berlangganan. Semua pengingat sudah dinonaktifkan.", greeting(p))
}

func confirmationText(status model.ConfirmationStatus) string {
	switch status {
	case model.ConfirmationConfirmed:
		return "Terima kasih sudah mengonfirmasi. Tetap jaga kesehatan!"
	case model.ConfirmationMissed:
		return "Terima kasih atas kejujurannya. Jangan lupa minum obat sesuai jadwal berikutnya ya."
	default:
		return "Terima kasih, balasan Anda sudah kami catat."
	}
}

func confirmationLaterText() string {
	return "Baik, terima kasih. Mohon kabari kami setelah Anda melakukannya dengan membalas SUDAH."
}

func emergencyAckText() string {
	return "Pesan darurat Anda sudah kami terima dan diteruskan ke relawan. Jika kondisi memburuk, segera hubungi 119 atau datang ke IGD terdekat."
}

func escalationAckText() string {
	return "Pesan Anda sudah kami teruskan ke relawan pendamping. Mereka akan segera menghubungi Anda."
}

func inquiryFallbackText() string {
	return "Terima kasih, pesan Anda sudah kami terima. Relawan kami akan membalas secepatnya."
}

func volunteerAlertText(kind string, p *model.Patient, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Pasien %s (%s) membutuhkan perhatian.\n", strings.ToUpper(kind), p.DisplayName(), p.PhoneNumber)
	fmt.Fprintf(&b, "Pesan: %q", text)
	return b.String()
}
