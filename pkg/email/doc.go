// Package email delivers notification and digest emails.
//
// EmailSender abstracts the provider: the Postmark client sends through the
// Postmark API, DevSender writes HTML and JSON files to a directory for local
// development. Notifier sits on top of a sender, resolves the recipient's
// address and renders the message body with the templ components in the
// templates subpackage.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	n := email.NewNotifier(sender, resolver, email.WithAppURL("https://app.example.com"))
//	err = n.SendNotification(ctx, notification)
package email
