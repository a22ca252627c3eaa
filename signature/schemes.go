package signature

func GitHub() Scheme {
	return Scheme{Name: "github", Header: "X-Hub-Signature-256", Prefix: "sha256=", Encoding: EncodingHex}
}

func Shopify() Scheme {
	return Scheme{Name: "shopify", Header: "X-Shopify-Hmac-Sha256", Encoding: EncodingBase64}
}

// Generic is used by integrations relayed through our own signing proxy.
func Generic(name string) Scheme {
	return Scheme{Name: name, Header: "X-Webhook-Signature", Encoding: EncodingHex}
}

func Sheets() Scheme {
	return Scheme{Name: "sheets", Header: "X-Sheets-Signature", Encoding: EncodingHex}
}
