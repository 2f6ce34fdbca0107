package channels

import "html/template"

type pageData struct {
	Title string
}

var widgetPage = template.Must(template.New("widget").Parse(widgetHTML))

const widgetHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>{{.Title}}</title>
<style>
:root{
  --bg-primary:#f6f5fb;--bg-panel:#ffffff;--border:#e4e1f0;
  --accent:#4b0082;--accent-hover:#3a0066;--accent-glow:rgba(75,0,130,.1);
  --text-primary:#1f1d2b;--text-muted:#8a879a;
  --bot-bg:#f1eff8;--code-bg:#1e1b2e;--code-text:#ece9ff;
  --radius:14px;
}
*{box-sizing:border-box;margin:0;padding:0}
html,body{height:100%}
body{font-family:system-ui,-apple-system,sans-serif;background:var(--bg-primary);color:var(--text-primary);display:flex;justify-content:center}
.chat{display:flex;flex-direction:column;width:100%;max-width:720px;height:100%;background:var(--bg-panel);border-left:1px solid var(--border);border-right:1px solid var(--border)}
.chat-header{display:flex;align-items:center;gap:12px;padding:14px 20px;border-bottom:1px solid var(--border)}
.chat-header h1{font-size:16px;font-weight:600}
.chat-header .status{font-size:12px;color:var(--text-muted)}
.chat-header button{margin-left:auto}
.ghost-btn{background:none;border:1px solid var(--border);border-radius:8px;padding:6px 12px;font-size:12px;color:var(--text-muted);cursor:pointer}
.ghost-btn:hover{color:var(--text-primary)}
#chatMessages{flex:1;overflow-y:auto;padding:20px;display:flex;flex-direction:column;gap:14px}
.message{display:flex;gap:10px;max-width:85%}
.user-message{align-self:flex-end;flex-direction:row-reverse}
.message-avatar{width:32px;height:32px;flex-shrink:0}
.message-avatar svg{width:32px;height:32px}
.user-message .message-avatar{display:none}
.message-content{display:flex;flex-direction:column;gap:4px}
.message-text{padding:10px 14px;border-radius:var(--radius);line-height:1.55;font-size:14px;word-wrap:break-word}
.bot-message .message-text{background:var(--bot-bg);border-bottom-left-radius:4px}
.user-message .message-text{background:var(--accent);color:#fff;border-bottom-right-radius:4px}
.message-text pre{background:var(--code-bg);color:var(--code-text);padding:12px 14px;border-radius:8px;overflow-x:auto;margin:8px 0}
.message-text code{font-family:'SF Mono',Consolas,monospace;font-size:13px}
.text-part+.text-part{margin-top:6px}
.message-time{font-size:11px;color:var(--text-muted)}
.user-message .message-time{text-align:right}
.typing-dots{display:flex;gap:4px;padding:14px}
.typing-dot{width:6px;height:6px;border-radius:50%;background:var(--accent);opacity:.5;animation:bounce .6s infinite alternate}
.typing-dot:nth-child(2){animation-delay:.15s}
.typing-dot:nth-child(3){animation-delay:.3s}
@keyframes bounce{from{transform:translateY(0)}to{transform:translateY(-4px);opacity:1}}
.chat-input{display:flex;align-items:flex-end;gap:8px;padding:14px 20px;border-top:1px solid var(--border)}
.input-wrapper{flex:1;display:flex;align-items:flex-end;gap:6px;border:1px solid var(--border);border-radius:var(--radius);padding:4px 8px;transition:box-shadow .2s}
.input-wrapper:focus-within{box-shadow:0 0 0 3px var(--accent-glow)}
#messageInput{flex:1;border:none;outline:none;resize:none;font:inherit;font-size:14px;padding:8px 4px;max-height:120px;background:transparent}
.icon-btn{background:none;border:none;cursor:pointer;font-size:18px;padding:6px;color:var(--text-muted)}
#sendBtn{background:var(--accent);color:#fff;border:none;border-radius:10px;padding:10px 16px;font-size:14px;cursor:pointer}
#sendBtn:hover{background:var(--accent-hover)}
#sendBtn:disabled{opacity:.4;cursor:not-allowed}
#notice{font-size:12px;color:#b3261e;padding:0 20px 8px;min-height:18px}
</style>
</head>
<body>
<div class="chat">
  <div class="chat-header">
    <div><h1>{{.Title}}</h1><div class="status" id="status">connecting...</div></div>
    <button class="ghost-btn" id="clearChatBtn" type="button">Clear chat</button>
  </div>
  <div id="chatMessages"></div>
  <div id="notice"></div>
  <div class="chat-input">
    <div class="input-wrapper">
      <button class="icon-btn" id="emojiBtn" type="button" aria-label="Emoji">&#128578;</button>
      <textarea id="messageInput" rows="1" placeholder="Type your message..."></textarea>
      <button class="icon-btn" id="attachmentBtn" type="button" aria-label="Attach file">&#128206;</button>
      <input type="file" id="fileInput" hidden>
    </div>
    <button id="sendBtn" type="button">Send</button>
  </div>
</div>
<script>
const botIcon='<svg viewBox="0 0 24 24" fill="none" xmlns="http://www.w3.org/2000/svg"><rect x="2" y="4" width="20" height="16" rx="3" fill="#4B0082"/><circle cx="9" cy="10" r="1.5" fill="white"/><circle cx="15" cy="10" r="1.5" fill="white"/><path d="M7 14.5C7 14.5 9.5 16 12 16C14.5 16 17 14.5 17 14.5" stroke="white" stroke-width="1.5" stroke-linecap="round"/></svg>';
const list=document.getElementById("chatMessages"),
      input=document.getElementById("messageInput"),
      sendBtn=document.getElementById("sendBtn"),
      statusEl=document.getElementById("status"),
      notice=document.getElementById("notice"),
      fileInput=document.getElementById("fileInput");
let ws=null,busy=false;

function scrollToBottom(){list.scrollTop=list.scrollHeight}
function bubble(role,inner,time){
  const row=document.createElement("div");row.className="message "+role+"-message";
  const av=document.createElement("div");av.className="message-avatar";
  if(role==="bot")av.innerHTML=botIcon;
  const content=document.createElement("div");content.className="message-content";
  const text=document.createElement("div");text.className="message-text";text.innerHTML=inner;
  content.appendChild(text);
  if(time){const t=document.createElement("div");t.className="message-time";t.textContent=time;content.appendChild(t)}
  row.appendChild(av);row.appendChild(content);
  return row;
}
function addMessage(m){list.appendChild(bubble(m.role,m.html,m.time));scrollToBottom()}
function showTyping(){
  hideTyping();
  const row=bubble("bot",'<div class="typing-dots"><div class="typing-dot"></div><div class="typing-dot"></div><div class="typing-dot"></div></div>',"");
  row.classList.add("typing-message");list.appendChild(row);scrollToBottom();
}
function hideTyping(){const t=list.querySelector(".typing-message");if(t)t.remove()}
function setBusy(b){busy=b;sendBtn.disabled=b||!ws||ws.readyState!==WebSocket.OPEN}
function send(frame){if(ws&&ws.readyState===WebSocket.OPEN)ws.send(JSON.stringify(frame))}

function connect(){
  const proto=location.protocol==="https:"?"wss":"ws";
  ws=new WebSocket(proto+"://"+location.host+"/ws");
  ws.onopen=()=>{statusEl.textContent="online";setBusy(false)};
  ws.onclose=()=>{statusEl.textContent="offline";setBusy(true)};
  ws.onmessage=ev=>{
    const f=JSON.parse(ev.data);
    switch(f.type){
      case "message":addMessage(f.message);break;
      case "typing_started":showTyping();break;
      case "typing_stopped":hideTyping();break;
      case "cleared":list.innerHTML="";break;
      case "state":setBusy(f.state==="awaiting-response");break;
      case "error":notice.textContent=f.error;setTimeout(()=>{notice.textContent=""},4000);break;
    }
  };
}

function submit(){
  const text=input.value.trim();
  if(!text||busy)return;
  input.value="";input.style.height="auto";
  setBusy(true);
  send({type:"submit",text:text});
}

sendBtn.addEventListener("click",submit);
input.addEventListener("keydown",e=>{if(e.key==="Enter"&&!e.shiftKey){e.preventDefault();submit()}});
input.addEventListener("input",()=>{input.style.height="auto";input.style.height=Math.min(input.scrollHeight,120)+"px"});
document.getElementById("clearChatBtn").addEventListener("click",()=>send({type:"clear"}));
document.getElementById("emojiBtn").addEventListener("click",()=>alert("Emoji functionality is not implemented yet."));
document.getElementById("attachmentBtn").addEventListener("click",()=>fileInput.click());
fileInput.addEventListener("change",e=>{const f=e.target.files[0];if(f)send({type:"attach",name:f.name});fileInput.value=""});
connect();input.focus();
</script>
</body>
</html>`
