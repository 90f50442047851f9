package proxy

import "time"

const clientTimeout = 30 * time.Second

const (
	forbiddenHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Access Denied</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
        h1 { color: #d9534f; }
    </style>
</head>
<body>
    <h1>403 Forbidden</h1>
    <p>Access to %s has been restricted by the administrator.</p>
    <p>If you believe this is an error, please contact support.</p>
</body>
</html>`

	badGatewayHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Bad Gateway</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
        h1 { color: #d9534f; }
    </style>
</head>
<body>
    <h1>502 Bad Gateway</h1>
    <p>%s could not be reached.</p>
</body>
</html>`
)
