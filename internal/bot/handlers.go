package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gratefultolord/proteinguru_signup_bot/internal/protein"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/verify"
	"github.com/gratefultolord/proteinguru_signup_bot/internal/wizard"
)

const (
	buttonBack         = "Back"
	buttonResend       = "Resend code"
	buttonShareContact = "Share my Telegram number"
	buttonTelegram     = "Continue with Telegram"
	buttonContinue     = "Continue"
	buttonComplete     = "Complete registration"
	buttonTryAgain     = "Try again"
)

const shutdownTimeout = 5 * time.Second

// API is the part of the Telegram client the bot uses. *tgbotapi.BotAPI
// satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Options struct {
	CountryCode string
	Rules       wizard.Rules
}

// hint is a reply for input the bot could not even parse.
type hint string

func (h hint) Error() string { return string(h) }

type BotService struct {
	api        API
	controller *wizard.Controller
	sessions   *sessions
	opts       Options
	logger     *zap.Logger
}

func New(api API, controller *wizard.Controller, opts Options, logger *zap.Logger) *BotService {
	return &BotService{
		api:        api,
		controller: controller,
		sessions:   newSessions(),
		opts:       opts,
		logger:     logger,
	}
}

// Start handles updates one at a time until ctx is done or the update
// channel closes. Open sessions are closed on the way out.
func (b *BotService) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	defer b.shutdown(ctx)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

func (b *BotService) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	for _, session := range b.sessions.drain() {
		b.controller.Close(ctx, session)
	}
}

func (b *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.Chat == nil {
		return
	}

	chatID := message.Chat.ID

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			b.handleStart(ctx, chatID)
			return
		case "cancel":
			b.handleCancel(ctx, chatID)
			return
		}
	}

	session, created := b.sessions.get(chatID)
	if created {
		b.render(chatID, b.controller.View(session), "")
		return
	}

	if message.Text == buttonBack {
		b.respond(chatID, session, b.controller.Retreat(ctx, session))
		return
	}

	view := b.controller.View(session)

	var err error
	switch view.Step {
	case wizard.StepPhone:
		err = b.handlePhone(ctx, session, message)
	case wizard.StepCode:
		err = b.handleCode(ctx, session, message.Text)
	case wizard.StepDetail:
		err = b.handleDetail(session, view, message.Text)
	case wizard.StepEmail:
		err = b.handleEmail(session, view, message.Text)
	case wizard.StepAge:
		err = b.handleAge(session, message.Text)
	case wizard.StepSex:
		err = b.handleSex(session, message.Text)
	case wizard.StepWeight:
		err = b.handleWeight(session, message.Text)
	case wizard.StepLifestyle:
		err = b.handleLifestyle(session, message.Text)
	case wizard.StepDiet:
		err = b.handleDiet(session, message.Text)
	case wizard.StepFinish:
		var done bool
		if done, err = b.handleFinish(ctx, chatID, session, message.Text); done {
			return
		}
	default:
		b.logger.Error("unknown step", zap.Int64("chat", chatID), zap.Stringer("step", view.Step))
		return
	}

	b.respond(chatID, session, err)
}

func (b *BotService) handleStart(ctx context.Context, chatID int64) {
	if old := b.sessions.take(chatID); old != nil {
		b.controller.Close(ctx, old)
	}

	session, _ := b.sessions.get(chatID)
	b.render(chatID, b.controller.View(session), "")
}

func (b *BotService) handleCancel(ctx context.Context, chatID int64) {
	if old := b.sessions.take(chatID); old != nil {
		b.controller.Close(ctx, old)
	}

	msg := tgbotapi.NewMessage(chatID, "Signup cancelled. Send /start whenever you want to begin again.")
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	b.send(msg)
}

func (b *BotService) handlePhone(ctx context.Context, session *wizard.Session, message *tgbotapi.Message) error {
	if message.Contact != nil {
		claim := b.telegramClaim(message)
		claim.Phone = message.Contact.PhoneNumber
		claim.PhoneOwner = strconv.FormatInt(message.Contact.UserID, 10)
		return b.controller.RequestVerification(ctx, session, wizard.FederatedClaim(claim))
	}

	if message.Text == buttonTelegram {
		return b.controller.RequestVerification(ctx, session, wizard.FederatedClaim(b.telegramClaim(message)))
	}

	digits := NormalizePhoneNumber(message.Text, b.opts.CountryCode)
	if !wizard.ValidPhone(digits) {
		return hint("Please send a 10-digit mobile number, for example 98765 43210.")
	}

	return b.controller.RequestVerification(ctx, session, wizard.PhoneClaim(digits))
}

func (b *BotService) telegramClaim(message *tgbotapi.Message) verify.FederatedClaim {
	claim := verify.FederatedClaim{Provider: verify.ProviderTelegram}

	if message.From != nil {
		claim.Subject = strconv.FormatInt(message.From.ID, 10)
		claim.DisplayName = strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)
	}

	return claim
}

func (b *BotService) handleCode(ctx context.Context, session *wizard.Session, text string) error {
	if text == buttonResend {
		return b.controller.RequestVerification(ctx, session, wizard.PhoneClaim(""))
	}

	return b.controller.ConfirmVerification(ctx, session, strings.ReplaceAll(text, " ", ""))
}

func (b *BotService) handleDetail(session *wizard.Session, view wizard.View, text string) error {
	if !wizard.ValidPhone(view.Fields.Phone) {
		digits := NormalizePhoneNumber(text, b.opts.CountryCode)
		if !wizard.ValidPhone(digits) {
			return hint("Please send a 10-digit mobile number, for example 98765 43210.")
		}
		session.SetPhone(digits)
		return nil
	}

	if text == buttonContinue {
		if !wizard.ValidName(view.Fields.Name) {
			return hint("Please send your name, at least 2 characters.")
		}
		return b.controller.Advance(session)
	}

	session.SetName(strings.TrimSpace(text))
	return b.controller.Advance(session)
}

func (b *BotService) handleEmail(session *wizard.Session, view wizard.View, text string) error {
	if text == buttonContinue {
		if !wizard.ValidEmail(view.Fields.Email) {
			return hint("Please send your email address, for example asha@example.com.")
		}
		return b.controller.Advance(session)
	}

	session.SetEmail(text)
	return b.controller.Advance(session)
}

func (b *BotService) handleAge(session *wizard.Session, text string) error {
	age, ok := ParseAge(text)
	if !ok {
		return hint("Please send your age in whole years, for example 28.")
	}

	session.SetAge(age)
	return b.controller.Advance(session)
}

func (b *BotService) handleSex(session *wizard.Session, text string) error {
	sex, ok := ParseSex(text)
	if !ok {
		return hint("Please choose one of the options below.")
	}

	session.SetSex(sex)
	return b.controller.Advance(session)
}

func (b *BotService) handleWeight(session *wizard.Session, text string) error {
	weight, ok := ParseWeight(text)
	if !ok {
		return hint("Please send your weight in kilograms, for example 68.5.")
	}

	session.SetWeight(weight)
	return b.controller.Advance(session)
}

func (b *BotService) handleLifestyle(session *wizard.Session, text string) error {
	lifestyle, ok := ParseLifestyle(text)
	if !ok {
		return hint("Please choose one of the options below.")
	}

	session.SetLifestyle(lifestyle)
	return b.controller.Advance(session)
}

func (b *BotService) handleDiet(session *wizard.Session, text string) error {
	diet, ok := ParseDiet(text)
	if !ok {
		return hint("Please choose one of the options below.")
	}

	session.SetDiet(diet)
	return b.controller.Advance(session)
}

// handleFinish reports whether the session is done with.
func (b *BotService) handleFinish(ctx context.Context, chatID int64, session *wizard.Session, text string) (bool, error) {
	if text != buttonComplete && text != buttonTryAgain {
		return false, hint("Please use the buttons below.")
	}

	if err := b.controller.Submit(ctx, session); err != nil {
		b.logger.Warn("submission failed", zap.Int64("chat", chatID), zap.Error(err))
		return false, err
	}

	view := b.controller.View(session)
	if b.sessions.take(chatID) == session {
		b.controller.Close(ctx, session)
	}

	rng := view.Recommendation
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"You're all set, %s!\n\nYour recommended daily protein intake is %d-%d g.",
		strings.TrimSpace(view.Fields.Name), rng.Min, rng.Max))
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	b.send(msg)

	b.logger.Info("signup completed", zap.Int64("chat", chatID), zap.String("uid", view.Identity.UID))

	return true, nil
}

// respond renders the session after an operation, prefixed with a
// description of err when there is one.
func (b *BotService) respond(chatID int64, session *wizard.Session, err error) {
	notice := ""
	if err != nil {
		notice = b.errorText(err)
	}

	b.render(chatID, b.controller.View(session), notice)
}

func (b *BotService) errorText(err error) string {
	if err == nil {
		return ""
	}

	var h hint
	if errors.As(err, &h) {
		return string(h)
	}

	var werr *wizard.Error
	if !errors.As(err, &werr) {
		return "Something went wrong. Please try again."
	}

	switch werr.Kind {
	case wizard.KindInputValidation:
		return b.inputText(werr.Step)
	case wizard.KindVerificationTransient:
		switch werr.Code {
		case verify.CodeIncorrect:
			return "That code is not correct. Check the SMS and try again."
		case verify.CodeRateLimited:
			return "Too many codes were requested for this number. Please wait a few minutes."
		case verify.CodeInvalidNumber:
			return "That number cannot receive codes. Please check it."
		case verify.CodeUserCancelled, verify.CodePopupBlocked:
			return "Sign-in was cancelled."
		default:
			return "Verification failed. Please try again."
		}
	case wizard.KindChallengeFatal:
		return fmt.Sprintf("This code is no longer valid. Tap %q to get a new one.", buttonResend)
	case wizard.KindProviderConfiguration:
		return "Verification is unavailable right now. Please try again later with /start."
	case wizard.KindPersistence:
		return fmt.Sprintf("We could not save your profile. Tap %q.", buttonTryAgain)
	}

	switch {
	case errors.Is(err, wizard.ErrStaleResponse):
		return ""
	case errors.Is(err, wizard.ErrInFlight):
		return "Still working on your previous request."
	case errors.Is(err, wizard.ErrIdentitySealed):
		return "Your account is verified and can no longer be changed. Send /start to begin again."
	case errors.Is(err, wizard.ErrSessionClosed):
		return "This signup was closed. Send /start to begin again."
	default:
		return "That is not available right now."
	}
}

func (b *BotService) inputText(step wizard.Step) string {
	switch step {
	case wizard.StepPhone:
		return "Please send a 10-digit mobile number, for example 98765 43210."
	case wizard.StepCode:
		return "The code has 6 digits."
	case wizard.StepDetail:
		return "Please send your name, at least 2 characters."
	case wizard.StepEmail:
		return "That does not look like an email address."
	case wizard.StepAge:
		return fmt.Sprintf("Please send an age between %d and %d.", b.opts.Rules.AgeMin, b.opts.Rules.AgeMax)
	case wizard.StepWeight:
		return "Please send a weight between 30 and 200 kg."
	default:
		return "Please choose one of the options below."
	}
}

func (b *BotService) render(chatID int64, view wizard.View, notice string) {
	text, keyboard := b.prompt(view)
	if notice != "" {
		text = notice + "\n\n" + text
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if len(keyboard) > 0 {
		msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(keyboard...)
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	b.send(msg)
}

func (b *BotService) prompt(view wizard.View) (string, [][]tgbotapi.KeyboardButton) {
	back := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonBack))

	switch view.Step {
	case wizard.StepPhone:
		return "Welcome to Protein Guru! Let's set up your profile.\n\n" +
				"Send your 10-digit mobile number and we will text you a code, or sign in with your Telegram account.",
			[][]tgbotapi.KeyboardButton{
				tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(buttonShareContact)),
				tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonTelegram)),
			}

	case wizard.StepCode:
		text := fmt.Sprintf("We sent a 6-digit code to %s%s. Enter it here.", b.opts.CountryCode, view.Fields.Phone)
		if !view.ChallengeExpiresAt.IsZero() {
			text += fmt.Sprintf("\nIt expires at %s.", view.ChallengeExpiresAt.UTC().Format("15:04 MST"))
		}
		return text, [][]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonResend)),
			back,
		}

	case wizard.StepDetail:
		if !wizard.ValidPhone(view.Fields.Phone) {
			return "Please send your 10-digit mobile number.", nil
		}
		if wizard.ValidName(view.Fields.Name) {
			return fmt.Sprintf("What is your name? Tap %q to keep %q.", buttonContinue, view.Fields.Name),
				[][]tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonContinue))}
		}
		return "What is your name?", nil

	case wizard.StepEmail:
		if wizard.ValidEmail(view.Fields.Email) {
			return fmt.Sprintf("Your email address? Tap %q to keep %s.", buttonContinue, view.Fields.Email),
				[][]tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonContinue)), back}
		}
		return "Your email address?", [][]tgbotapi.KeyboardButton{back}

	case wizard.StepAge:
		return "How old are you?", [][]tgbotapi.KeyboardButton{back}

	case wizard.StepSex:
		return "Your sex?", [][]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("Male"),
				tgbotapi.NewKeyboardButton("Female"),
				tgbotapi.NewKeyboardButton("Other"),
			),
			back,
		}

	case wizard.StepWeight:
		return "Your weight in kg?", [][]tgbotapi.KeyboardButton{back}

	case wizard.StepLifestyle:
		return "Which describes you best?", [][]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("Structured training"),
				tgbotapi.NewKeyboardButton("Sedentary"),
			),
			back,
		}

	case wizard.StepDiet:
		return "Your diet?", [][]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("Veg"),
				tgbotapi.NewKeyboardButton("Egg"),
				tgbotapi.NewKeyboardButton("Non-veg"),
			),
			back,
		}

	case wizard.StepFinish:
		button := buttonComplete
		if view.Submission == wizard.SubmissionFailed {
			button = buttonTryAgain
		}
		return b.summary(view), [][]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(button)),
			back,
		}
	}

	return "", nil
}

func (b *BotService) summary(view wizard.View) string {
	f := view.Fields

	var sb strings.Builder
	sb.WriteString("Please check your details:\n\n")
	fmt.Fprintf(&sb, "Name: %s\n", strings.TrimSpace(f.Name))
	fmt.Fprintf(&sb, "Phone: %s%s\n", b.opts.CountryCode, f.Phone)
	fmt.Fprintf(&sb, "Email: %s\n", f.Email)
	fmt.Fprintf(&sb, "Age: %d\n", f.Age)
	fmt.Fprintf(&sb, "Sex: %s\n", f.Sex)
	fmt.Fprintf(&sb, "Weight: %s kg\n", strconv.FormatFloat(f.Weight, 'f', -1, 64))
	fmt.Fprintf(&sb, "Lifestyle: %s\n", f.Lifestyle)
	fmt.Fprintf(&sb, "Diet: %s\n", f.Diet)

	if view.Preview != nil {
		fmt.Fprintf(&sb, "\nDaily protein: %d-%d g (min %.1f g/kg, max %.1f g/kg)",
			view.Preview.Min, view.Preview.Max, protein.MinFactor, protein.MaxFactor(f.Lifestyle))
	}

	return sb.String()
}

func (b *BotService) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("failed to send message", zap.Error(err))
	}
}
