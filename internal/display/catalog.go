// Package display renders the terminal chat in Persian or English. Every
// function takes the language explicitly; there is no package-level
// language state.
package display

import "github.com/54b3r/hamdam-go/internal/langdetect"

// Key names a catalog message.
type Key string

const (
	KeyWelcome       Key = "welcome"
	KeyActiveModel   Key = "active_model"
	KeyCommands      Key = "commands"
	KeyModels        Key = "models"
	KeyAsk           Key = "ask"
	KeyBye           Key = "bye"
	KeySwitching     Key = "switching"
	KeySwitchSuccess Key = "switch_success"
	KeySwitchPrompt  Key = "switch_prompt"
	KeyAlreadyActive Key = "already_active"
	KeyUnloaded      Key = "unloaded"
	KeyInvalidInput  Key = "invalid_input"
	KeyResetSuccess  Key = "reset_success"
	KeyError         Key = "error"
	KeyThinking      Key = "thinking"
)

var catalog = map[langdetect.Language]map[Key]string{
	langdetect.Fa: {
		KeyWelcome:       "به چت‌بات درمانگر خوش آمدید!",
		KeyActiveModel:   "مدل فعال",
		KeyCommands:      "دستورات",
		KeyModels:        "مدل‌های موجود",
		KeyAsk:           "(%s) پیام یا دستور وارد کنید:",
		KeyBye:           "خداحافظ! 🌸",
		KeySwitching:     "در حال تغییر مدل",
		KeySwitchSuccess: "مدل با موفقیت تغییر کرد به",
		KeySwitchPrompt:  "🔄 شماره یا نام مدل جدید را وارد کنید:",
		KeyAlreadyActive: "این مدل هم‌اکنون فعال است!",
		KeyUnloaded:      "مدل قبلی از حافظه خارج شد!",
		KeyInvalidInput:  "ورودی نامعتبر است!",
		KeyResetSuccess:  "چت پاک شد! 🧹",
		KeyError:         "خطا:",
		KeyThinking:      "در حال فکر کردن...",
	},
	langdetect.En: {
		KeyWelcome:       "Welcome to the Therapist Chatbot!",
		KeyActiveModel:   "Active Model",
		KeyCommands:      "Commands",
		KeyModels:        "Available models",
		KeyAsk:           "(%s) Enter your message or a command:",
		KeyBye:           "Goodbye! 👋",
		KeySwitching:     "Switching model",
		KeySwitchSuccess: "Model switched successfully to",
		KeySwitchPrompt:  "Enter the number or name of the new model:",
		KeyAlreadyActive: "This model is already active!",
		KeyUnloaded:      "Previous model unloaded!",
		KeyInvalidInput:  "Invalid input!",
		KeyResetSuccess:  "Chat history cleared! 🧹",
		KeyError:         "Error:",
		KeyThinking:      "Thinking...",
	},
}

// Text returns the catalog entry for key in lang. Anything but Persian
// reads from the English catalog.
func Text(lang langdetect.Language, key Key) string {
	if lang != langdetect.Fa {
		lang = langdetect.En
	}
	return catalog[lang][key]
}

// Command is one entry of the REPL command list.
type Command struct {
	Emoji string
	Name  string
	Color string
	desc  map[langdetect.Language]string
}

// Description returns the command's help text in lang.
func (c Command) Description(lang langdetect.Language) string {
	if lang == langdetect.Fa {
		return c.desc[langdetect.Fa]
	}
	return c.desc[langdetect.En]
}

// Commands lists the REPL commands in display order.
var Commands = []Command{
	{Emoji: "🔄", Name: "/switch", Color: "6", desc: map[langdetect.Language]string{
		langdetect.Fa: "تغییر مدل زبانی", langdetect.En: "Switch language model"}},
	{Emoji: "🧹", Name: "/reset", Color: "5", desc: map[langdetect.Language]string{
		langdetect.Fa: "پاک‌سازی تاریخچه گفتگو", langdetect.En: "Clear chat history"}},
	{Emoji: "🧠", Name: "/models", Color: "2", desc: map[langdetect.Language]string{
		langdetect.Fa: "مشاهده مدل‌های موجود", langdetect.En: "List available models"}},
	{Emoji: "🚪", Name: "/exit", Color: "1", desc: map[langdetect.Language]string{
		langdetect.Fa: "خروج از برنامه", langdetect.En: "Exit the program"}},
}
