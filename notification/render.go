package notification

import (
	"fmt"
	"strings"
)

type templateText struct {
	subject string
	body    string
}

// Member-facing templates. Placeholders use {name} syntax and are filled from
// the job's data map.
var templates = map[string]templateText{
	"proposal_approved": {
		subject: "Sua proposta foi aprovada",
		body:    "Olá {name}, sua proposta de filiação foi aprovada. Assine o contrato pelo link: {sign_link}",
	},
	"proposal_concluded": {
		subject: "Cadastro concluído",
		body:    "Olá {name}, seu cadastro foi concluído com sucesso. Bem-vindo(a)!",
	},
	"docs_pending": {
		subject: "Documentos pendentes",
		body:    "Olá {name}, identificamos divergências nos documentos enviados: {reasons}. Por favor, reenvie.",
	},
}

// RenderTemplate produces the subject and body for a template id, replacing
// every {key} placeholder with the corresponding data value. Unknown template
// ids are a permanent failure upstream.
func RenderTemplate(template string, data map[string]string) (subject, body string, err error) {
	text, ok := templates[template]
	if !ok {
		return "", "", fmt.Errorf("notification: unknown template %q", template)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)
	return text.subject, replacer.Replace(text.body), nil
}
