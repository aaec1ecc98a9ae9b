package report

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"medical-intake-agent/internal/intake"

	"github.com/signintech/gopdf"
)

type TelegramClient interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, fileData []byte, fileName string) error
}

// AnswerSource reads back the persisted answers of a finished interview, in
// the order they were given.
type AnswerSource interface {
	ListAnswers(ctx context.Context, sessionID, patientID int64) ([]intake.AnswerRecord, error)
}

// Service renders a completed intake interview as a PDF and delivers it to
// the clinic chat.
type Service struct {
	tgClient     TelegramClient
	answers      AnswerSource
	clinicChatID int64
}

func NewService(tg TelegramClient, answers AnswerSource, clinicChatID int64) *Service {
	return &Service{
		tgClient:     tg,
		answers:      answers,
		clinicChatID: clinicChatID,
	}
}

// dejavuPaths are the common locations of the DejaVu font across base images.
var dejavuPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

func (s *Service) SendIntakeReport(ctx context.Context, sess intake.Session) error {
	records, err := s.answers.ListAnswers(ctx, sess.SessionID, sess.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load answers for session %d: %w", sess.SessionID, err)
	}

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range dejavuPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return fmt.Errorf("failed to load font for PDF, ensure ttf-dejavu is installed: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return err
	}
	pdf.Cell(nil, "Medical Intake Summary")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return err
	}
	pdf.Cell(nil, fmt.Sprintf("Date: %s", time.Now().Format("02.01.2006 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Session ID: %d", sess.SessionID))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Patient ID: %d", sess.PatientID))
	pdf.Br(15)
	if !sess.SessionStart.IsZero() {
		pdf.Cell(nil, fmt.Sprintf("Interview started: %s", sess.SessionStart.Format("02.01.2006 15:04")))
		pdf.Br(15)
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Responses:")
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}
	if len(records) == 0 {
		pdf.Cell(nil, "- No responses recorded.")
		pdf.Br(15)
	}
	for _, rec := range records {
		line := fmt.Sprintf("- %s: %s", rec.Label, rec.Value)
		lines, _ := pdf.SplitText(line, 500)
		for _, l := range lines {
			pdf.Cell(nil, l)
			pdf.Br(12)
		}
		pdf.Br(5)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}

	fileName := fmt.Sprintf("intake_%d_%d.pdf", sess.SessionID, sess.PatientID)
	if err := s.tgClient.SendDocument(s.clinicChatID, buf.Bytes(), fileName); err != nil {
		return fmt.Errorf("failed to deliver intake report: %w", err)
	}
	log.Printf("session %d: intake report sent to clinic chat", sess.SessionID)
	return nil
}
